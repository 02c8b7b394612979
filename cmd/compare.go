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
	"fmt"

	"github.com/fatih/color"
	"github.com/k1LoW/stamp"
	"github.com/spf13/cobra"
)

var threshold int

var compareCmd = &cobra.Command{
	Use:   "compare A B",
	Short: "compare two images by perceptual hash",
	Long: `compare two images by perceptual hash.

Exits with status 1 when the distance is greater than or equal to the threshold.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := stamp.Compare(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return reportComparison(cmd, c, threshold)
	},
}

func reportComparison(cmd *cobra.Command, c *stamp.Comparison, threshold int) error {
	switch {
	case c.Equivalent:
		cmd.Printf("%s distance:%d\n", color.GreenString("identical"), c.Distance)
	case c.Similar(threshold):
		cmd.Printf("%s distance:%d\n", color.GreenString("similar"), c.Distance)
	default:
		cmd.Printf("%s distance:%d\n", color.RedString("different"), c.Distance)
		return fmt.Errorf("%s and %s differ: distance %d >= threshold %d", c.A, c.B, c.Distance, threshold)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().IntVarP(&threshold, "threshold", "", stamp.DefaultThreshold, "distance from which images are considered different")
}
