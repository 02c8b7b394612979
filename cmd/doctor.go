/*
Copyright © 2025 Ken'ichiro Oyama <k1lowxb@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/k1LoW/stamp"
	"github.com/k1LoW/stamp/config"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check stamp environment and configuration",
	Long:  `Check stamp environment and configuration to ensure everything is set up correctly.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Color setup
		green := color.New(color.FgGreen)
		red := color.New(color.FgRed)
		yellow := color.New(color.FgYellow)
		cyan := color.New(color.FgCyan)
		bold := color.New(color.Bold)

		allOK := true

		// 1. Check configuration file (optional)
		cmd.Print("🔧 Checking configuration file ... ")

		cfg := &config.Config{}
		p, found := config.Path(profile)
		if !found {
			yellow.Println("- NOT FOUND")
			cmd.Printf("   Built-in defaults are used. Create %s to change them.\n", p)
		} else {
			loaded, err := config.LoadFile(p)
			if err != nil {
				red.Println("✗ CONFIG ERROR")
				cmd.Printf("   Error loading config: %v\n", err)
				allOK = false
			} else {
				cfg = loaded
				green.Println("✓ OK")
				cmd.Printf("   Configuration file: %s\n", p)
			}
		}

		// 2. Check settings and conditions
		cmd.Print("🧮 Checking settings and conditions ... ")

		if _, err := stamp.New(stamp.WithConfig(cfg)); err != nil {
			red.Println("✗ INVALID")
			cmd.Printf("   %v\n", err)
			allOK = false
		} else {
			green.Println("✓ OK")
			cmd.Printf("   %d condition(s) compiled\n", len(cfg.Defaults))
		}

		// 3. Check post command shell
		cmd.Print("🐚 Checking post command ... ")

		switch {
		case cfg.PostCommand == "":
			yellow.Println("- NOT SET")
		default:
			shell, err := stamp.DetectShell()
			if err != nil {
				red.Println("✗ NO SHELL")
				cmd.Printf("   %v\n", err)
				allOK = false
			} else {
				green.Println("✓ OK")
				cmd.Printf("   %s -c %q\n", shell, cfg.PostCommand)
			}
		}

		// 4. Check state directory for error reports
		cmd.Print("📁 Checking state directory ... ")

		if err := os.MkdirAll(config.StateHomePath(), 0o700); err != nil {
			red.Println("✗ NOT WRITABLE")
			cmd.Printf("   %v\n", err)
			allOK = false
		} else {
			green.Println("✓ OK")
			cmd.Printf("   %s\n", config.StateHomePath())
		}

		// 5. Registered codecs
		cmd.Println("🖼  Registered formats")
		cmd.Print("   decode: ")
		cyan.Println(formatList(stamp.InputFormats))
		cmd.Print("   encode: ")
		cyan.Println(formatList(stamp.OutputFormats))

		// Final message
		cmd.Println()
		if allOK {
			bold.Printf("🎉 ")
			green.Print("All checks passed! You are ready to use stamp")
			bold.Println(".")
		} else {
			red.Println("⚠️  Setup is incomplete.")
			cmd.Println("\nPlease fix the issues above to use stamp properly.")
		}

		return nil
	},
}

func formatList(formats []stamp.Format) string {
	names := make([]string, 0, len(formats))
	for _, f := range formats {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
