package rfb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rcarmo/go-vnc-server/internal/auth"
)

// SecurityType is one byte identifying an RFB security/authentication
// scheme.
type SecurityType byte

const (
	SecurityNone    SecurityType = 1
	SecurityVNCAuth SecurityType = 2
)

const (
	securityResultOK     = 0
	securityResultFailed = 1
)

// NegotiateSecurity runs the version-appropriate security handshake and,
// for SecurityVNCAuth, the DES challenge/response. password is ignored
// (and only SecurityNone is offered) when empty.
func NegotiateSecurity(rw io.ReadWriter, version Version, password string) error {
	offered := SecurityNone
	if password != "" {
		offered = SecurityVNCAuth
	}

	if version == Version33 {
		if err := binary.Write(byteWriter{rw}, binary.BigEndian, uint32(offered)); err != nil {
			return fmt.Errorf("rfb: writing 3.3 security type: %w", err)
		}
	} else {
		if _, err := rw.Write([]byte{1, byte(offered)}); err != nil {
			return fmt.Errorf("rfb: writing security type list: %w", err)
		}
		chosen := make([]byte, 1)
		if _, err := io.ReadFull(rw, chosen); err != nil {
			return fmt.Errorf("rfb: reading chosen security type: %w", err)
		}
		if SecurityType(chosen[0]) != offered {
			return fmt.Errorf("rfb: client chose unsupported security type %d", chosen[0])
		}
	}

	if offered == SecurityNone {
		if version == Version38 {
			return writeSecurityResult(rw, true, version)
		}
		return nil
	}

	return runVNCAuth(rw, password, version)
}

func runVNCAuth(rw io.ReadWriter, password string, version Version) error {
	challenge, err := auth.NewChallenge()
	if err != nil {
		return err
	}
	if _, err := rw.Write(challenge); err != nil {
		return fmt.Errorf("rfb: writing auth challenge: %w", err)
	}

	response := make([]byte, auth.ChallengeSize)
	if _, err := io.ReadFull(rw, response); err != nil {
		return fmt.Errorf("rfb: reading auth response: %w", err)
	}

	ok, err := auth.Verify(password, challenge, response)
	if err != nil {
		return err
	}
	return writeSecurityResult(rw, ok, version)
}

func writeSecurityResult(rw io.ReadWriter, ok bool, version Version) error {
	result := uint32(securityResultOK)
	if !ok {
		result = securityResultFailed
	}
	if err := binary.Write(byteWriter{rw}, binary.BigEndian, result); err != nil {
		return fmt.Errorf("rfb: writing security result: %w", err)
	}
	if !ok {
		if version == Version38 {
			if err := writeString32(rw, "Authentication failed"); err != nil {
				return err
			}
		}
		return fmt.Errorf("rfb: authentication failed")
	}
	return nil
}

// byteWriter adapts an io.ReadWriter to the io.Writer binary.Write expects
// without leaking the Reader half.
type byteWriter struct{ w io.Writer }

func (b byteWriter) Write(p []byte) (int, error) { return b.w.Write(p) }

func writeString32(w io.Writer, s string) error {
	if err := binary.Write(byteWriter{w}, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}
