// filterTrustedHeaderTools implements the supplemented trusted-header
// tools/list filter (SPEC_FULL §C.2), adapted from kagenti-mcp-gateway's
// internal/broker/filtered_tools_handler.go: an AfterListTools hook that,
// when TrustedHeaders.Enabled, trusts an upstream proxy to have attached an
// ES256-signed JWT naming exactly which tools the calling identity may see,
// and drops every tool not named in its allowed-tools claim. When disabled
// (the default) the catalog passes through untouched; when enabled, a
// request whose header is missing or fails validation gets an empty list.
package gateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/mark3labs/mcp-go/mcp"
)

const allowedToolsClaimKey = "allowed-tools"

func (g *Gateway) filterTrustedHeaderTools(_ context.Context, _ any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
	filter := g.cfg.TrustedHeaders
	if !filter.Enabled {
		return
	}

	headerName := filter.HeaderName
	if headerName == "" {
		headerName = "x-authorized-tools"
	}
	canonical := http.CanonicalHeaderKey(headerName)

	original := res.Tools
	res.Tools = []mcp.Tool{}

	values, ok := req.Header[canonical]
	if !ok || len(values) != 1 || values[0] == "" {
		g.logger.Debug("gateway: no trusted tools header present, returning empty catalog", "header", headerName)
		return
	}

	if filter.PublicKeyPEM == "" {
		g.logger.Error("gateway: trusted tools header present but no public key configured")
		return
	}

	token, err := parseTrustedToolsJWT(values[0], filter.PublicKeyPEM)
	if err != nil {
		g.logger.Error("gateway: failed to validate trusted tools header", "error", err)
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		g.logger.Error("gateway: trusted tools token has no claims")
		return
	}
	rawClaim, ok := claims[allowedToolsClaimKey]
	if !ok {
		g.logger.Error("gateway: trusted tools token missing allowed-tools claim")
		return
	}
	claimValue, ok := rawClaim.(string)
	if !ok {
		g.logger.Error("gateway: allowed-tools claim is not a string")
		return
	}

	var allowedByServer map[string][]string
	if err := json.Unmarshal([]byte(claimValue), &allowedByServer); err != nil {
		g.logger.Error("gateway: failed to unmarshal allowed-tools claim", "error", err)
		return
	}

	allowedNames := map[string]bool{}
	for _, names := range allowedByServer {
		for _, n := range names {
			allowedNames[n] = true
		}
	}

	for _, t := range original {
		if allowedNames[t.Name] {
			res.Tools = append(res.Tools, t)
		}
	}
}

func parseTrustedToolsJWT(token, publicKeyPEM string) (*jwt.Token, error) {
	return jwt.Parse(token, func(_ *jwt.Token) (any, error) {
		block, _ := pem.Decode([]byte(publicKeyPEM))
		if block == nil {
			return nil, fmt.Errorf("gateway: invalid PEM public key")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("gateway: expected an ECDSA public key, got %T", pub)
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
}
