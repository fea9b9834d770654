package ciphering

import (
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

var glomap = map[base.CosemTag]base.CosemTag{
	base.TagInitiateRequest:          base.TagGloInitiateRequest,
	base.TagInitiateResponse:         base.TagGloInitiateResponse,
	base.TagConfirmedServiceError:    base.TagGloConfirmedServiceError,
	base.TagReadRequest:              base.TagGloReadRequest,
	base.TagWriteRequest:             base.TagGloWriteRequest,
	base.TagReadResponse:             base.TagGloReadResponse,
	base.TagWriteResponse:            base.TagGloWriteResponse,
	base.TagGetRequest:               base.TagGloGetRequest,
	base.TagSetRequest:               base.TagGloSetRequest,
	base.TagEventNotificationRequest: base.TagGloEventNotificationRequest,
	base.TagActionRequest:            base.TagGloActionRequest,
	base.TagGetResponse:              base.TagGloGetResponse,
	base.TagSetResponse:              base.TagGloSetResponse,
	base.TagActionResponse:           base.TagGloActionResponse,
}

var plainmap = func() map[base.CosemTag]base.CosemTag {
	m := make(map[base.CosemTag]base.CosemTag, len(glomap))
	for k, v := range glomap {
		m[v] = k
	}
	return m
}()

// GloCommand returns the global ciphered tag carrying the plain service tag.
func GloCommand(plain base.CosemTag) (base.CosemTag, error) {
	g, ok := glomap[plain]
	if !ok {
		return 0, fmt.Errorf("no global ciphered variant of tag %d: %w", plain, base.ErrFormat)
	}
	return g, nil
}

// PlainCommand is the inverse of GloCommand.
func PlainCommand(glo base.CosemTag) (base.CosemTag, error) {
	p, ok := plainmap[glo]
	if !ok {
		return 0, fmt.Errorf("tag %d is not a global ciphered service: %w", glo, base.ErrFormat)
	}
	return p, nil
}

// IsRecognizedGlo reports whether Decrypt accepts the command: get, set and method requests and
// responses plus the two initiate tags carried in ciphered user information.
func IsRecognizedGlo(cmd base.CosemTag) bool {
	switch cmd {
	case base.TagGloGetRequest, base.TagGloGetResponse,
		base.TagGloSetRequest, base.TagGloSetResponse,
		base.TagGloActionRequest, base.TagGloActionResponse,
		base.TagGloInitiateRequest, base.TagGloInitiateResponse:
		return true
	}
	return false
}
