// Package health scores the passwords in a decrypted vault: weak passwords
// by zxcvbn score and passwords reused across items. Recomputation runs on
// a replace queue, so only the latest request after a burst of edits runs.
package health

import (
	"context"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/jmcleod/ironkeep/internal/observe"
	"github.com/jmcleod/ironkeep/queue"
	"github.com/jmcleod/ironkeep/vault"
)

// DefaultMinScore is the lowest zxcvbn score (0-4) not reported as weak.
const DefaultMinScore = 3

// Report is the result of one recompute.
type Report struct {
	// Scores maps cipher id to zxcvbn score for every scored login.
	Scores map[string]int
	// Weak lists ids scoring below the minimum, sorted.
	Weak []string
	// Reused groups ids sharing one password. Groups and ids are sorted.
	Reused     [][]string
	ComputedAt time.Time
}

// Compute scores every live login with a password.
func Compute(views []*vault.CipherView, minScore int) Report {
	r := Report{Scores: make(map[string]int)}
	byPassword := make(map[string][]string)
	for _, v := range views {
		if v == nil || v.Login == nil || v.Login.Password == "" || !v.DeletedDate.IsZero() {
			continue
		}
		score := zxcvbn.PasswordStrength(v.Login.Password, userInputs(v)).Score
		r.Scores[v.ID] = score
		if score < minScore {
			r.Weak = append(r.Weak, v.ID)
		}
		byPassword[v.Login.Password] = append(byPassword[v.Login.Password], v.ID)
	}
	slices.Sort(r.Weak)
	for _, ids := range byPassword {
		if len(ids) > 1 {
			slices.Sort(ids)
			r.Reused = append(r.Reused, ids)
		}
	}
	slices.SortFunc(r.Reused, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return r
}

// userInputs are the item's own strings, which zxcvbn penalizes when they
// appear in the password.
func userInputs(v *vault.CipherView) []string {
	in := []string{v.Name}
	if v.Login.Username != "" {
		in = append(in, v.Login.Username)
		if local, _, ok := strings.Cut(v.Login.Username, "@"); ok {
			in = append(in, local)
		}
	}
	for _, u := range v.Login.URIs {
		if p, err := url.Parse(u.URI); err == nil && p.Hostname() != "" {
			in = append(in, p.Hostname())
		}
	}
	return in
}

// Source returns the views to score.
type Source func() []*vault.CipherView

// Recomputer keeps an up to date Report.
type Recomputer struct {
	queue    *queue.Queue
	source   Source
	minScore int
	logger   *slog.Logger
	clock    func() time.Time
	report   *observe.Value[Report]
}

// Option configures a Recomputer.
type Option func(*Recomputer)

func WithLogger(l *slog.Logger) Option {
	return func(r *Recomputer) {
		r.logger = l
	}
}

func WithMinScore(score int) Option {
	return func(r *Recomputer) {
		r.minScore = score
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Recomputer) {
		r.clock = clock
	}
}

// NewRecomputer schedules recomputes on q, which should be created with
// queue.WithReplace and concurrency 1.
func NewRecomputer(q *queue.Queue, source Source, opts ...Option) *Recomputer {
	r := &Recomputer{
		queue:    q,
		source:   source,
		minScore: DefaultMinScore,
		logger:   slog.Default(),
		clock:    time.Now,
		report:   observe.New(Report{Scores: map[string]int{}}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request schedules a recompute. A request that has not started yet is
// dropped in favor of this one.
func (r *Recomputer) Request(ctx context.Context) *queue.Job {
	return r.queue.Add(ctx, func(context.Context) error {
		start := time.Now()
		rep := Compute(r.source(), r.minScore)
		rep.ComputedAt = r.clock()
		r.report.Update(func(Report) Report { return rep })
		r.logger.Debug("password health recomputed",
			slog.Int("scored", len(rep.Scores)),
			slog.Int("weak", len(rep.Weak)),
			slog.Int("reused_groups", len(rep.Reused)),
			slog.Duration("took", time.Since(start)))
		return nil
	})
}

// Report returns the latest report.
func (r *Recomputer) Report() Report {
	rep := r.report.Get()
	rep.Scores = maps.Clone(rep.Scores)
	return rep
}

// Subscribe calls fn after every recompute.
func (r *Recomputer) Subscribe(fn func(Report)) (unsubscribe func()) {
	return r.report.Subscribe(fn)
}
