package cmd

import (
	"fmt"
)

const banner = `
  _____                 _  __               
 |_   _|               | |/ /               
   | |  _ __ ___  _ __ | ' / ___  ___ _ __  
   | | | '__/ _ \| '_ \|  < / _ \/ _ \ '_ \ 
  _| |_| | | (_) | | | | . \  __/  __/ |_) |
 |_____|_|  \___/|_| |_|_|\_\___|\___| .__/ 
                                     | |    
                                     |_|    
`

func printBanner(subtitle string) {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  %s - Version %s\x1b[0m\n\n", subtitle, Version)
}
