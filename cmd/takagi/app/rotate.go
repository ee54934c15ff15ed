package app

import (
	"github.com/spf13/cobra"

	"github.com/celsiusnarhwal/takagi/pkg/config"
	"github.com/celsiusnarhwal/takagi/pkg/keyset"
	"github.com/celsiusnarhwal/takagi/pkg/logger"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the managed keyset",
	Long: `Replace the managed keyset with a freshly generated one. Every token issued
under the previous keys becomes invalid immediately; there is no grace
period. Refuses to run when the keyset is supplied externally through
KEYSET or KEYSET_FILE.`,
	RunE: runRotate,
}

func runRotate(_ *cobra.Command, _ []string) error {
	service, err := selectedService()
	if err != nil {
		return err
	}

	settings, err := config.Load(service)
	if err != nil {
		return err
	}

	keys, err := keyset.Load(keyset.LoadOptions{
		KeysetJSON: settings.Keyset,
		KeysetFile: settings.KeysetFile,
		DataDir:    settings.DataDir,
	})
	if err != nil {
		return err
	}

	ks, err := keys.Rotate()
	if err != nil {
		return err
	}

	logger.Infof("Rotated keyset; new signing key ID is %s", ks.Signing.KeyID)
	return nil
}
