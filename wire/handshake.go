package wire

import (
	"context"
	"fmt"

	"github.com/loomvcs/loom/internal/errcode"
)

// capabilities this build of Loom speaks, advertised in AuthOk (spec §6:
// "additive capability flags are conveyed in the AuthOk capability set").
var capabilities = []string{"chunk-batch", "lock-ops", "sync-plan"}

// HasCapability reports whether cap is present in the negotiated set.
func HasCapability(negotiated []string, cap string) bool {
	for _, c := range negotiated {
		if c == cap {
			return true
		}
	}
	return false
}

// ClientHandshake performs the Auth/AuthOk exchange from the dialing side:
// send credentials, read back the server's chosen version and capability
// set (spec §4.7 step 1: "Authenticate; exchange capability set and chosen
// protocol version").
func ClientHandshake(ctx context.Context, fw *FrameWriter, fr *FrameReader, requestID uint64, credential string) (AuthOk, error) {
	req := AuthRequest{
		Credential:         credential,
		ClientVersion:      ProtocolVersion,
		ClientCapabilities: capabilities,
	}
	if err := fw.WriteMessage(MsgAuth, 0, requestID, req); err != nil {
		return AuthOk{}, err
	}
	f, err := fr.ReadFrame()
	if err != nil {
		return AuthOk{}, fmt.Errorf("wire: handshake: read response: %w", err)
	}
	switch f.Header.Type {
	case MsgAuthOk:
		var ok AuthOk
		if err := DecodeBody(f.Payload, &ok); err != nil {
			return AuthOk{}, err
		}
		if ok.ServerVersion > ProtocolVersion {
			// Server speaks a newer major version; negotiation rule is
			// "clients speak the highest mutually supported version" so
			// fall back to ours, which the server must also understand
			// since it accepted the Auth frame.
			ok.ServerVersion = ProtocolVersion
		}
		return ok, nil
	case MsgAuthFail:
		var fail AuthFail
		if err := DecodeBody(f.Payload, &fail); err != nil {
			return AuthOk{}, err
		}
		return AuthOk{}, errcode.New(errcode.Code(fail.Code), fail.Message)
	default:
		return AuthOk{}, fmt.Errorf("wire: handshake: unexpected response type %s", f.Header.Type)
	}
}

// ServerHandshake performs the Auth/AuthOk exchange from the accepting
// side. authenticate validates the client's credential and returns an
// error describing why authentication failed, or nil on success.
func ServerHandshake(ctx context.Context, fw *FrameWriter, fr *FrameReader, authenticate func(AuthRequest) error) (AuthRequest, error) {
	f, err := fr.ReadFrame()
	if err != nil {
		return AuthRequest{}, fmt.Errorf("wire: handshake: read auth: %w", err)
	}
	if f.Header.Type != MsgAuth {
		return AuthRequest{}, fmt.Errorf("wire: handshake: expected Auth, got %s", f.Header.Type)
	}
	var req AuthRequest
	if err := DecodeBody(f.Payload, &req); err != nil {
		return AuthRequest{}, err
	}

	if err := authenticate(req); err != nil {
		_ = fw.WriteMessage(MsgAuthFail, 0, f.Header.RequestID, AuthFail{
			Code:    string(errcode.AuthFailed),
			Message: err.Error(),
		})
		return req, err
	}

	version := ProtocolVersion
	if req.ClientVersion < version {
		version = req.ClientVersion
	}
	negotiated := intersect(capabilities, req.ClientCapabilities)
	if err := fw.WriteMessage(MsgAuthOk, 0, f.Header.RequestID, AuthOk{
		ServerVersion: version,
		Capabilities:  negotiated,
	}); err != nil {
		return req, err
	}
	return req, nil
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
