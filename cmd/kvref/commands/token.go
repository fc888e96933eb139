package commands

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/systmms/kvref/internal/config"
	kverrors "github.com/systmms/kvref/internal/errors"
	"github.com/systmms/kvref/internal/logging"
	"github.com/systmms/kvref/pkg/keyvault"
)

func NewTokenCommand(cfg *config.Config) *cobra.Command {
	var (
		alg    string
		ttl    time.Duration
		verify string
	)

	cmd := &cobra.Command{
		Use:   "token <certificate> [claims-json]",
		Short: "Issue a JWT signed by a vault certificate",
		Long: `Issue a compact JWT signed remotely by a certificate's key. The header
carries the certificate thumbprint (x5t). iat and exp are added from --ttl
unless the claims already set them.

Use --verify to check an existing token against the certificate instead.

Examples:
  kvref token https://my-vault.vault.azure.net/certificates/api/ '{"sub":"billing"}'
  kvref token https://my-vault.vault.azure.net/certificates/api/ --verify "$TOKEN"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}
			svc, cleanup, err := newService(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			cert, err := svc.Certificate(args[0], callOptions(cfg)...)
			if err != nil {
				return kverrors.VaultError("reference parsing", err)
			}
			builder, err := keyvault.NewCertificateTokenBuilder(cert, alg)
			if err != nil {
				return kverrors.UserError{
					Message:    err.Error(),
					Suggestion: "Use one of: " + strings.Join(keyvault.TokenAlgorithms, ", "),
				}
			}

			if verify != "" {
				claims := jwt.MapClaims{}
				if err := builder.VerifyToken(cmd.Context(), verify, claims); err != nil {
					return kverrors.VaultError("token verification", err)
				}
				return printValue(cmd.OutOrStdout(), claims)
			}

			claims := jwt.MapClaims{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &claims); err != nil {
					return kverrors.UserError{
						Message:    "Claims are not a JSON object",
						Details:    err.Error(),
						Suggestion: `Pass claims like '{"sub":"service","aud":"api"}'`,
					}
				}
			}
			now := time.Now()
			if _, ok := claims["iat"]; !ok {
				claims["iat"] = now.Unix()
			}
			if _, ok := claims["exp"]; !ok && ttl > 0 {
				claims["exp"] = now.Add(ttl).Unix()
			}

			token, err := builder.Build(cmd.Context(), claims)
			if err != nil {
				return kverrors.VaultError("token signing", err)
			}
			cfg.Logger.Debug("issued token %s", logging.RedactToken(token))
			return printValue(cmd.OutOrStdout(), token)
		},
	}

	cmd.Flags().StringVar(&alg, "alg", defaultAlgorithm, "Signature algorithm ("+strings.Join(keyvault.TokenAlgorithms, ", ")+")")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime; 0 omits exp")
	cmd.Flags().StringVar(&verify, "verify", "", "Verify this token instead of issuing one")

	return cmd
}
