package dlmsal

import (
	"bytes"
	"fmt"

	"github.com/cybroslabs/dlmscore-go/base"
)

const (
	tagAppContextName  = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName     // 0xa1
	tagCallingAPTitle  = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAPTitle             // 0xa6
	tagResult          = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPTitle              // 0xa2
	tagDiagnostic      = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEQualifier          // 0xa3
	tagRespondingTitle = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPInvocationID       // 0xa4
	tagCallingAEInvoc  = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAEInvocationID      // 0xa9
	tagAcseRequirement = base.BERTypeContext | base.PduTypeSenderAcseRequirements                               // 0x8a
	tagMechanismName   = base.BERTypeContext | base.PduTypeMechanismName                                        // 0x8b
	tagCallingAuth     = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAuthenticationValue // 0xac
	tagRespAcseReq     = base.BERTypeContext | base.PduTypeCallingAPInvocationID                                // 0x88
	tagRespMechanism   = base.BERTypeContext | base.PduTypeCallingAEInvocationID                                // 0x89
	tagRespAuth        = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeSenderAcseRequirements     // 0xaa
	tagUserInformation = base.BERTypeContext | base.BERTypeConstructed | base.PduTypeUserInformation            // 0xbe
)

// joint-iso-ccitt(2) country(16) country-name(756) identified-organization(5) DLMS-UA(8) authentication-mechanism-name(2)
var (
	mechoidprefix = []byte{0x60, 0x85, 0x74, 0x05, 0x08, 0x02}
)

// application-context-name OIDs indexed by base.ApplicationContext, index 0 is unused
var contextoids = [...][7]byte{
	{},
	base.ApplicationContextLNNoCiphering: {0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x01},
	base.ApplicationContextSNNoCiphering: {0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x02},
	base.ApplicationContextLNCiphering:   {0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x03},
	base.ApplicationContextSNCiphering:   {0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x04},
}

// ContextOID returns the 7 byte object identifier of an application context.
func ContextOID(c base.ApplicationContext) ([]byte, error) {
	if c == 0 || int(c) >= len(contextoids) {
		return nil, fmt.Errorf("application context %d: %w", c, base.ErrUnsupportedContext)
	}
	oid := contextoids[c]
	return oid[:], nil
}

// EncodeApplicationContextName writes the A1 field. A client using ciphering follows it with the
// calling AP title carrying its system title, a server never writes it.
func EncodeApplicationContextName(dst *bytes.Buffer, useln bool, ciphered bool, client bool, title []byte) error {
	oid, err := ContextOID(base.ContextFor(useln, ciphered))
	if err != nil {
		return err
	}
	dst.WriteByte(tagAppContextName)
	dst.WriteByte(byte(2 + len(oid)))
	dst.WriteByte(0x06)
	dst.WriteByte(byte(len(oid)))
	dst.Write(oid)

	if ciphered && client {
		if len(title) != base.SystemTitleLength {
			return fmt.Errorf("calling ap title has to be %d bytes: %w", base.SystemTitleLength, base.ErrConfiguration)
		}
		base.EncodeTag2(dst, tagCallingAPTitle, 0x04, title)
	}
	return nil
}

// DecodeApplicationContextName reads the A1 field body from the length on. An OID matching
// none of the four contexts is ErrUnsupportedContext.
func DecodeApplicationContextName(cur *base.Cursor) (base.ApplicationContext, error) {
	sub, err := cur.Sub()
	if err != nil {
		return 0, fmt.Errorf("application context name: %w", err)
	}
	if err = sub.Expect(0x06); err != nil {
		return 0, fmt.Errorf("application context name: %w", err)
	}
	l, err := sub.Length()
	if err != nil {
		return 0, fmt.Errorf("application context name: %w", err)
	}
	oid, _ := sub.Bytes(l)
	for c := base.ApplicationContextLNNoCiphering; c <= base.ApplicationContextSNCiphering; c++ {
		if bytes.Equal(oid, contextoids[c][:]) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("oid %X: %w", oid, base.ErrUnsupportedContext)
}

func encodemechname(dst *bytes.Buffer, tag byte, mech base.Authentication) {
	dst.WriteByte(tag)
	dst.WriteByte(byte(len(mechoidprefix) + 1))
	dst.Write(mechoidprefix)
	dst.WriteByte(byte(mech))
}

func decodemechname(sub *base.Cursor) (base.Authentication, error) {
	if err := sub.Expect(mechoidprefix...); err != nil {
		return 0, fmt.Errorf("mechanism name: %w", err)
	}
	m, err := sub.Byte()
	if err != nil {
		return 0, fmt.Errorf("mechanism name: %w", err)
	}
	if m > byte(base.AuthenticationHighEcdsa) {
		return 0, fmt.Errorf("mechanism name %d: %w", m, base.ErrFormat)
	}
	return base.Authentication(m), nil
}

// title wrapped into an octet string, A4/A6 content
func decodetitle(sub *base.Cursor) ([]byte, error) {
	if err := sub.Expect(0x04); err != nil {
		return nil, fmt.Errorf("ap title: %w", err)
	}
	l, err := sub.Length()
	if err != nil {
		return nil, fmt.Errorf("ap title: %w", err)
	}
	if l != base.SystemTitleLength {
		return nil, fmt.Errorf("ap title length %d: %w", l, base.ErrFormat)
	}
	t, _ := sub.Bytes(l)
	return append([]byte(nil), t...), nil
}

// authentication value, AC/AA content, only the charstring choice 0x80
func decodeauthvalue(sub *base.Cursor) ([]byte, error) {
	if err := sub.Expect(0x80); err != nil {
		return nil, fmt.Errorf("authentication value: %w", err)
	}
	l, err := sub.Length()
	if err != nil {
		return nil, fmt.Errorf("authentication value: %w", err)
	}
	v, _ := sub.Bytes(l)
	return append([]byte(nil), v...), nil
}
