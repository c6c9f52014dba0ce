package cmd

import (
	"fmt"
)

const banner = `
      _ _     _                       _       
  ___| (_) __| | ___ _ __ __ _  __ _| |_ ___ 
 / __| | |/ _` + "`" + ` |/ _ \ '__/ _` + "`" + ` |/ _` + "`" + ` | __/ _ \
 \__ \ | | (_| |  __/ | | (_| | (_| | ||  __/
 |___/_|_|\__,_|\___|_|  \__, |\__,_|\__\___|
                         |___/               
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Slider Captcha Service - Version %s\x1b[0m\n\n", Version)
}
