package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/celsiusnarhwal/takagi/pkg/keyset"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a keyset",
	Long: `Generate a fresh signing and encryption keyset and print it to standard
output as a JWK Set. Feed it back through KEYSET or KEYSET_FILE to supply
your own keys instead of letting the service manage them.`,
	RunE: runKeygen,
}

func runKeygen(_ *cobra.Command, _ []string) error {
	ks, err := keyset.Generate()
	if err != nil {
		return err
	}
	data, err := ks.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
