package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readNewPassword("New master password: ")
		if err != nil {
			return err
		}
		c, err := openClient(nil)
		if err != nil {
			return err
		}
		defer c.Close()
		reg, err := c.Register(cmd.Context(), email, pw)
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s (user %s, kdf %s)\n", reg.Email, reg.UserID, reg.KDF.Type)
		return nil
	},
}

var changePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Rotate the master password",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := login(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer c.Close()
		pw, err := readNewPassword("New master password: ")
		if err != nil {
			return err
		}
		if err := c.ChangePassword(cmd.Context(), pw); err != nil {
			return err
		}
		fmt.Println("Master password changed.")
		return nil
	},
}

var wordlistPath string

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the account fingerprint for out-of-band verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := login(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer c.Close()
		fp, err := c.Fingerprint()
		if err != nil {
			return err
		}
		if wordlistPath == "" {
			fmt.Println(fp.Digits())
			return nil
		}
		words, err := readWordlist(wordlistPath)
		if err != nil {
			return err
		}
		phrase, err := fp.Phrase(words)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(phrase, "-"))
		return nil
	},
}

// readWordlist reads one word per line. Lines in the EFF format
// ("11111\tabacus") keep only the last field.
func readWordlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read wordlist: %w", err)
	}
	defer f.Close()
	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		words = append(words, fields[len(fields)-1])
	}
	return words, sc.Err()
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, changePasswordCmd, fingerprintCmd} {
		addEmailFlag(c)
		rootCmd.AddCommand(c)
	}
	fingerprintCmd.Flags().StringVar(&wordlistPath, "wordlist", "", "Render the fingerprint as words from this list")
}
