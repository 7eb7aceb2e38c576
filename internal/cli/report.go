package cli

import (
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore"
)

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the effective security posture as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)
			return printJSON(cmd, rt.engine.SecurityReport())
		},
	}
}

const redacted = "<redacted>"

// configView reports whether the key material is present without printing
// it.
type configView struct {
	Config            authcore.Config `json:"config"`
	JWTKeySet         bool            `json:"jwtKeySet"`
	TOTPEncryptionSet bool            `json:"totpEncryptionKeySet"`
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the loaded configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, redactConfig(a.cfg))
		},
	}
}

func redactConfig(cfg authcore.Config) configView {
	view := configView{
		JWTKeySet:         len(cfg.JWT.PrivateKey) > 0,
		TOTPEncryptionSet: len(cfg.TOTP.EncryptionKey) > 0,
	}
	cfg.JWT.PrivateKey = nil
	cfg.TOTP.EncryptionKey = nil
	cfg.TOTP.EncryptionSalt = nil
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = redacted
	}
	cfg.Database.DSN = redactDSN(cfg.Database.DSN)
	view.Config = cfg
	return view
}

// redactDSN masks the password of URL and key=value DSNs.
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return u.String()
		}
		return dsn
	}
	if !strings.Contains(dsn, "password=") {
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=" + redacted
		}
	}
	return strings.Join(fields, " ")
}
