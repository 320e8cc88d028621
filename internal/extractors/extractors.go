// Package extractors turns gin path params into resolved entity IDs plus
// a fingerprint.Fingerprint. URL patterns are validated once at
// construction time (httpapi registers them at startup) rather than
// guarded by a runtime panic-catch — the construction-time choice recorded
// as an Open-Question resolution in DESIGN.md.
package extractors

import (
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/fingerprint"
)

var paramName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PlayerServerExtractor resolves the ":server"/":player" path params of a
// registered route into a player/server ID pair plus their fingerprint.
type PlayerServerExtractor struct {
	serverParam string
	playerParam string
	resolver    *fingerprint.PlayerServerResolver
}

// NewPlayerServerExtractor validates both param names eagerly: a malformed
// pattern is a programming error caught at startup, never a per-request
// panic risk.
func NewPlayerServerExtractor(serverParam, playerParam string, resolver *fingerprint.PlayerServerResolver) (*PlayerServerExtractor, error) {
	if !paramName.MatchString(serverParam) {
		return nil, fmt.Errorf("extractors: invalid server param name %q", serverParam)
	}
	if !paramName.MatchString(playerParam) {
		return nil, fmt.Errorf("extractors: invalid player param name %q", playerParam)
	}
	return &PlayerServerExtractor{serverParam: serverParam, playerParam: playerParam, resolver: resolver}, nil
}

// MustNewPlayerServerExtractor panics on an invalid pattern; used only at
// router-construction time where a bad pattern is a startup-fatal bug.
func MustNewPlayerServerExtractor(serverParam, playerParam string, resolver *fingerprint.PlayerServerResolver) *PlayerServerExtractor {
	e, err := NewPlayerServerExtractor(serverParam, playerParam, resolver)
	if err != nil {
		panic(err)
	}
	return e
}

// Resolved is the outcome of extracting entity IDs and their fingerprint
// from a request.
type Resolved struct {
	ServerID    string
	PlayerID    string
	MapName     string
	Fingerprint fingerprint.Fingerprint
}

func (e *PlayerServerExtractor) Extract(c *gin.Context) (Resolved, error) {
	serverID := c.Param(e.serverParam)
	playerID := c.Param(e.playerParam)
	if serverID == "" || playerID == "" {
		return Resolved{}, fmt.Errorf("extractors: missing path params")
	}

	fp, err := e.resolver.Current(c.Request.Context(), playerID, serverID)
	if err != nil {
		return Resolved{}, err
	}

	return Resolved{ServerID: serverID, PlayerID: playerID, Fingerprint: fp}, nil
}

// MapServerExtractor resolves the ":server"/":map" path params.
type MapServerExtractor struct {
	serverParam string
	mapParam    string
	resolver    *fingerprint.MapServerResolver
}

func NewMapServerExtractor(serverParam, mapParam string, resolver *fingerprint.MapServerResolver) (*MapServerExtractor, error) {
	if !paramName.MatchString(serverParam) {
		return nil, fmt.Errorf("extractors: invalid server param name %q", serverParam)
	}
	if !paramName.MatchString(mapParam) {
		return nil, fmt.Errorf("extractors: invalid map param name %q", mapParam)
	}
	return &MapServerExtractor{serverParam: serverParam, mapParam: mapParam, resolver: resolver}, nil
}

func MustNewMapServerExtractor(serverParam, mapParam string, resolver *fingerprint.MapServerResolver) *MapServerExtractor {
	e, err := NewMapServerExtractor(serverParam, mapParam, resolver)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *MapServerExtractor) Extract(c *gin.Context) (Resolved, error) {
	serverID := c.Param(e.serverParam)
	mapName := c.Param(e.mapParam)
	if serverID == "" || mapName == "" {
		return Resolved{}, fmt.Errorf("extractors: missing path params")
	}

	fp, err := e.resolver.Current(c.Request.Context(), mapName, serverID)
	if err != nil {
		return Resolved{}, err
	}

	return Resolved{ServerID: serverID, MapName: mapName, Fingerprint: fp}, nil
}
