/*
Copyright © 2018-2023 blacktop

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

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Trsvsr/idevicererestore/pkg/restore"
)

func init() {
	rootCmd.Flags().BoolP("rerestore", "r", false, "take advantage of the 9.x 32-bit re-restore bug")
	rootCmd.Flags().String("cache-dir", "", "directory for cached version data, downloads, and SHSH blobs")
	rootCmd.Flags().String("proxy", "", "HTTP/HTTPS proxy for TSS and partial-ZIP requests")
	rootCmd.Flags().Bool("insecure", false, "do not verify TLS certs on TSS and partial-ZIP requests")

	viper.BindPFlag("rerestore", rootCmd.Flags().Lookup("rerestore"))
	viper.BindPFlag("cache-dir", rootCmd.Flags().Lookup("cache-dir"))
	viper.BindPFlag("proxy", rootCmd.Flags().Lookup("proxy"))
	viper.BindPFlag("insecure", rootCmd.Flags().Lookup("insecure"))

	rootCmd.Args = cobra.MaximumNArgs(1)
	rootCmd.RunE = runRestore
}

func runRestore(cmd *cobra.Command, args []string) error {
	var ipswPath string
	if len(args) > 0 {
		ipswPath = args[0]
	}

	var flags restore.Flags
	if viper.GetBool("rerestore") {
		flags |= restore.FlagRerestore
	}
	if viper.GetBool("debug") {
		flags |= restore.FlagDebug
	}
	if ipswPath == "" {
		flags |= restore.FlagLatest
	}

	c := restore.NewClient(ipswPath, viper.GetString("cache-dir"), flags)
	c.Proxy = viper.GetString("proxy")
	c.Insecure = viper.GetBool("insecure")

	progress := func(step string, fraction float64) {
		log.Info(color.New(color.Bold).Sprintf("[%s] %.0f%%", step, fraction*100))
	}

	code := c.Run(nil, progress)
	os.Exit(int(code))
	return nil
}
