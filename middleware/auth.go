// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

// WalletContextMiddleware extracts the caller's wallet identity and roles set
// by the Gateway. The wallet is normalized to its checksummed form so
// identity comparisons (winner, ticket holder, balance owner) are exact.
func WalletContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		walletHeader := c.Get("X-Wallet-Address")
		rolesStr := c.Get("X-User-Roles")

		if walletHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Wallet-Address — request must come through gateway with auth context",
			})
		}
		if !common.IsHexAddress(walletHeader) {
			log.Printf("[WALLET_CTX] Invalid wallet address %q on %s", walletHeader, c.Path())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "X-Wallet-Address is not a valid address",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		c.Locals("wallet", common.HexToAddress(walletHeader).Hex())
		c.Locals("user_roles", roles)

		return c.Next()
	}
}

// AdminOnlyMiddleware rejects callers whose gateway roles do not include
// "admin". Applied on top of WalletContextMiddleware.
func AdminOnlyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("user_roles").([]string)
		for _, r := range roles {
			if r == "admin" {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "admin role required",
		})
	}
}
