// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/idp"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/spf13/cobra"
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate",
	Short: "Sign an IDP challenge with a card",
	Long: `Sign an IDP challenge with the authentication key of an HBA or SMC-B.

The challenge is either passed directly with --challenge or fetched from
--challenge-url (or the configured IDP). With --submit the signed challenge
is posted back to the IDP and the redirect location is printed.

--type MULTI signs with the HBA and then the SMC-B.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typeFlag, _ := cmd.Flags().GetString("type")
		cardType, err := parseAuthCardType(typeFlag)
		if err != nil {
			return err
		}
		challenge, _ := cmd.Flags().GetString("challenge")
		challengeURL, _ := cmd.Flags().GetString("challenge-url")
		handle, _ := cmd.Flags().GetString("card-handle")
		submit, _ := cmd.Flags().GetBool("submit")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		return withComponents(cmd, func(ctx context.Context, e *env) error {
			if challenge == "" && challengeURL == "" {
				challengeURL = e.cfg.ChallengeURL()
			}
			if challenge == "" && challengeURL == "" {
				return errcodes.New(errcodes.InvalidLauncherParameter).
					AppendMessage("either --challenge or --challenge-url is required")
			}

			if challenge == "" {
				ch, err := e.c.IDP.FetchChallenge(ctx, challengeURL)
				if err != nil {
					return err
				}
				challenge = ch.Challenge
				printVerbose("Requested scopes: %v", ch.UserConsent.RequestedScopes)
			}

			results, err := e.c.Authenticator.Authenticate(ctx, cardauth.Request{
				CardType:   cardType,
				Challenge:  challenge,
				CardHandle: handle,
			})
			if err != nil {
				return err
			}

			out := make([]AuthOutput, 0, len(results))
			for _, r := range results {
				out = append(out, AuthOutput{
					CardType:   string(r.CardType),
					CardHandle: r.Session.CardHandle,
					UserID:     r.Session.UserID,
					JWS:        r.JWS,
				})
			}

			if submit {
				if challengeURL == "" {
					return errcodes.New(errcodes.InvalidLauncherParameter).
						AppendMessage("--submit needs a challenge url")
				}
				endpoint, err := idp.SubmitEndpoint(challengeURL)
				if err != nil {
					return err
				}
				for i := range out {
					location, err := e.c.IDP.SubmitSignedChallenge(ctx, endpoint, out[i].JWS)
					if err != nil {
						return err
					}
					out[i].Redirect = location
				}
			}
			return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout()).PrintAuthResults(out)
		})
	},
}

// parseAuthCardType accepts the card types plus MULTI.
func parseAuthCardType(s string) (soap.CardType, error) {
	if strings.EqualFold(s, string(cardauth.CardTypeMulti)) {
		return cardauth.CardTypeMulti, nil
	}
	ct, err := soap.ParseCardType(s)
	if err != nil {
		return "", errcodes.Wrap(err, errcodes.InvalidLauncherParameter).
			AppendMessage("--type must be HBA, SMC-B or MULTI")
	}
	return ct, nil
}

func init() {
	flags := authenticateCmd.Flags()
	flags.StringP("type", "t", string(soap.CardTypeSMCB), "card type (HBA, SMC-B, MULTI)")
	flags.String("challenge", "", "challenge to sign")
	flags.String("challenge-url", "", "IDP authorization URL to fetch the challenge from")
	flags.String("card-handle", "", "card handle to use when several cards are inserted")
	flags.Bool("submit", false, "post the signed challenge back to the IDP")
}
