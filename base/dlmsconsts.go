package base

import "fmt"

const (
	DlmsVersion = 0x06

	VAANameLN = 0x0007
	VAANameSN = 0xFA00
)

type Authentication byte

const (
	AuthenticationNone       Authentication = 0 // No authentication is used.
	AuthenticationLow        Authentication = 1 // Low authentication is used.
	AuthenticationHigh       Authentication = 2 // High authentication is used.
	AuthenticationHighMD5    Authentication = 3 // High authentication is used. Password is hashed with MD5.
	AuthenticationHighSHA1   Authentication = 4 // High authentication is used. Password is hashed with SHA1.
	AuthenticationHighGmac   Authentication = 5 // High authentication is used. Password is hashed with GMAC.
	AuthenticationHighSha256 Authentication = 6 // High authentication is used. Password is hashed with SHA-256.
	AuthenticationHighEcdsa  Authentication = 7 // High authentication is used. Password is hashed with ECDSA.
)

// DlmsSecurity is the upper nibble of the security control byte of a ciphered APDU.
type DlmsSecurity byte

const (
	SecurityNone                     DlmsSecurity = 0    // Transport security is not used.
	SecurityAuthentication           DlmsSecurity = 0x10 // Only GMAC tag, payload in clear.
	SecurityEncryption               DlmsSecurity = 0x20 // Only encryption, no tag.
	SecurityAuthenticationEncryption DlmsSecurity = 0x30 // Encryption and tag.

	SecurityBroadcastKey DlmsSecurity = 0x40
	SecurityCompression  DlmsSecurity = 0x80
)

func (s DlmsSecurity) String() string {
	switch s {
	case SecurityNone:
		return "none"
	case SecurityAuthentication:
		return "authentication"
	case SecurityEncryption:
		return "encryption"
	case SecurityAuthenticationEncryption:
		return "authentication-encryption"
	default:
		return fmt.Sprintf("security(0x%02x)", byte(s))
	}
}

// HasAuthentication reports whether a 12 byte tag follows the payload.
func (s DlmsSecurity) HasAuthentication() bool {
	return s&SecurityAuthentication != 0
}

// HasEncryption reports whether the payload is encrypted.
func (s DlmsSecurity) HasEncryption() bool {
	return s&SecurityEncryption != 0
}

// SecuritySuite is the lower nibble of the security control byte.
type SecuritySuite byte

const (
	SecuritySuite0 SecuritySuite = 0 // AES-GCM-128
	SecuritySuite1 SecuritySuite = 1 // AES-GCM-128, ECDH-ECDSA P-256
	SecuritySuite2 SecuritySuite = 2 // AES-GCM-256, ECDH-ECDSA P-384
)

// SecurityPolicy as defined for the security setup object, version 0 semantics.
type SecurityPolicy byte

const (
	SecurityPolicyNothing                SecurityPolicy = 0
	SecurityPolicyAuthenticatedMessages  SecurityPolicy = 1
	SecurityPolicyEncryptedMessages      SecurityPolicy = 2
	SecurityPolicyAuthenticatedEncrypted SecurityPolicy = 3
)

// Required returns the security bits every ciphered APDU has to carry under the policy.
func (p SecurityPolicy) Required() DlmsSecurity {
	switch p {
	case SecurityPolicyAuthenticatedMessages:
		return SecurityAuthentication
	case SecurityPolicyEncryptedMessages:
		return SecurityEncryption
	case SecurityPolicyAuthenticatedEncrypted:
		return SecurityAuthenticationEncryption
	}
	return SecurityNone
}

const (
	SystemTitleLength = 8
	GcmTagLength      = 12
	GcmNonceLength    = 12
	FrameCounterLen   = 4
)

type AssociationResult byte

const (
	AssociationResultAccepted          AssociationResult = 0
	AssociationResultPermanentRejected AssociationResult = 1
	AssociationResultTransientRejected AssociationResult = 2
)

func (r AssociationResult) String() string {
	switch r {
	case AssociationResultAccepted:
		return "accepted"
	case AssociationResultPermanentRejected:
		return "rejected-permanent"
	case AssociationResultTransientRejected:
		return "rejected-transient"
	default:
		return fmt.Sprintf("result(%d)", byte(r))
	}
}

type SourceDiagnostic byte

const (
	SourceDiagnosticNone                                     SourceDiagnostic = 0
	SourceDiagnosticNoReasonGiven                            SourceDiagnostic = 1
	SourceDiagnosticApplicationContextNameNotSupported       SourceDiagnostic = 2
	SourceDiagnosticAuthenticationMechanismNameNotRecognized SourceDiagnostic = 11
	SourceDiagnosticAuthenticationFailure                    SourceDiagnostic = 13
	SourceDiagnosticAuthenticationRequired                   SourceDiagnostic = 14
)

type ApplicationContext byte

// Application context definitions, the value is also the last arc of the context OID.
const (
	ApplicationContextLNNoCiphering ApplicationContext = 1
	ApplicationContextSNNoCiphering ApplicationContext = 2
	ApplicationContextLNCiphering   ApplicationContext = 3
	ApplicationContextSNCiphering   ApplicationContext = 4
)

// ContextFor selects one of the four contexts from the referencing scheme and ciphering flag.
func ContextFor(useln bool, ciphered bool) ApplicationContext {
	switch {
	case useln && !ciphered:
		return ApplicationContextLNNoCiphering
	case !useln && !ciphered:
		return ApplicationContextSNNoCiphering
	case useln && ciphered:
		return ApplicationContextLNCiphering
	default:
		return ApplicationContextSNCiphering
	}
}

func (c ApplicationContext) IsLN() bool {
	return c == ApplicationContextLNNoCiphering || c == ApplicationContextLNCiphering
}

func (c ApplicationContext) IsCiphered() bool {
	return c == ApplicationContextLNCiphering || c == ApplicationContextSNCiphering
}

const (
	PduTypeApplicationContextName     = 1
	PduTypeCalledAPTitle              = 2
	PduTypeCalledAEQualifier          = 3
	PduTypeCalledAPInvocationID       = 4
	PduTypeCallingAPTitle             = 6
	PduTypeCallingAPInvocationID      = 8
	PduTypeCallingAEInvocationID      = 9
	PduTypeSenderAcseRequirements     = 10
	PduTypeMechanismName              = 11
	PduTypeCallingAuthenticationValue = 12
	PduTypeUserInformation            = 30
)

const (
	BERTypeContext     = 0x80
	BERTypeConstructed = 0x20
)

// Conformance block bits, the first bit sent is the most significant one
const (
	ConformanceBlockGeneralProtection           = 0b010000000000000000000000
	ConformanceBlockGeneralBlockTransfer        = 0b001000000000000000000000
	ConformanceBlockRead                        = 0b000100000000000000000000
	ConformanceBlockWrite                       = 0b000010000000000000000000
	ConformanceBlockAttribute0SupportedWithGet  = 0b000000000010000000000000
	ConformanceBlockBlockTransferWithGetOrRead  = 0b000000000001000000000000
	ConformanceBlockBlockTransferWithSetOrWrite = 0b000000000000100000000000
	ConformanceBlockBlockTransferWithAction     = 0b000000000000010000000000
	ConformanceBlockMultipleReferences          = 0b000000000000001000000000
	ConformanceBlockGet                         = 0b000000000000000000010000
	ConformanceBlockSet                         = 0b000000000000000000001000
	ConformanceBlockSelectiveAccess             = 0b000000000000000000000100
	ConformanceBlockAction                      = 0b000000000000000000000001
)

type CosemTag byte

const (
	// ---- standardized DLMS APDUs
	TagInitiateRequest          CosemTag = 1
	TagReadRequest              CosemTag = 5
	TagWriteRequest             CosemTag = 6
	TagInitiateResponse         CosemTag = 8
	TagReadResponse             CosemTag = 12
	TagWriteResponse            CosemTag = 13
	TagConfirmedServiceError    CosemTag = 14
	TagGloInitiateRequest       CosemTag = 33
	TagGloInitiateResponse      CosemTag = 40
	TagGloConfirmedServiceError CosemTag = 46
	TagAARQ                     CosemTag = 96
	TagAARE                     CosemTag = 97
	TagRLRQ                     CosemTag = 98
	TagRLRE                     CosemTag = 99
	// --- APDUs used for data communication services
	TagGetRequest               CosemTag = 192
	TagSetRequest               CosemTag = 193
	TagEventNotificationRequest CosemTag = 194
	TagActionRequest            CosemTag = 195
	TagGetResponse              CosemTag = 196
	TagSetResponse              CosemTag = 197
	TagActionResponse           CosemTag = 199
	TagExceptionResponse        CosemTag = 216
	// --- global ciphered pdus
	TagGloReadRequest              CosemTag = 37
	TagGloWriteRequest             CosemTag = 38
	TagGloReadResponse             CosemTag = 44
	TagGloWriteResponse            CosemTag = 45
	TagGloGetRequest               CosemTag = 200
	TagGloSetRequest               CosemTag = 201
	TagGloEventNotificationRequest CosemTag = 202
	TagGloActionRequest            CosemTag = 203
	TagGloGetResponse              CosemTag = 204
	TagGloSetResponse              CosemTag = 205
	TagGloActionResponse           CosemTag = 207
	// --- block transfer
	TagGeneralBlockTransfer CosemTag = 224
)

// IsGlo reports whether the tag is one of the global-key ciphered service tags.
func (t CosemTag) IsGlo() bool {
	switch t {
	case TagGloInitiateRequest, TagGloInitiateResponse, TagGloConfirmedServiceError,
		TagGloReadRequest, TagGloWriteRequest, TagGloReadResponse, TagGloWriteResponse,
		TagGloGetRequest, TagGloSetRequest, TagGloEventNotificationRequest, TagGloActionRequest,
		TagGloGetResponse, TagGloSetResponse, TagGloActionResponse:
		return true
	}
	return false
}

type DlmsResultTag byte

const (
	// DataAccessResult
	TagResultSuccess                 DlmsResultTag = 0
	TagResultHardwareFault           DlmsResultTag = 1
	TagResultTemporaryFailure        DlmsResultTag = 2
	TagResultReadWriteDenied         DlmsResultTag = 3
	TagResultObjectUndefined         DlmsResultTag = 4
	TagResultObjectClassInconsistent DlmsResultTag = 9
	TagResultObjectUnavailable       DlmsResultTag = 11
	TagResultTypeUnmatched           DlmsResultTag = 12
	TagResultScopeAccessViolated     DlmsResultTag = 13
	TagResultDataBlockUnavailable    DlmsResultTag = 14
	TagResultLongGetAborted          DlmsResultTag = 15
	TagResultNoLongGetInProgress     DlmsResultTag = 16
	TagResultLongSetAborted          DlmsResultTag = 17
	TagResultNoLongSetInProgress     DlmsResultTag = 18
	TagResultDataBlockNumberInvalid  DlmsResultTag = 19
	TagResultOtherReason             DlmsResultTag = 250
)

func (s DlmsResultTag) String() string {
	switch s {
	case TagResultSuccess:
		return "success"
	case TagResultHardwareFault:
		return "hardware-fault"
	case TagResultTemporaryFailure:
		return "temporary-failure"
	case TagResultReadWriteDenied:
		return "read-write-denied"
	case TagResultObjectUndefined:
		return "object-undefined"
	case TagResultObjectClassInconsistent:
		return "object-class-inconsistent"
	case TagResultObjectUnavailable:
		return "object-unavailable"
	case TagResultTypeUnmatched:
		return "type-unmatched"
	case TagResultScopeAccessViolated:
		return "scope-of-access-violated"
	case TagResultDataBlockUnavailable:
		return "data-block-unavailable"
	case TagResultLongGetAborted:
		return "long-get-aborted"
	case TagResultNoLongGetInProgress:
		return "no-long-get-in-progress"
	case TagResultLongSetAborted:
		return "long-set-aborted"
	case TagResultNoLongSetInProgress:
		return "no-long-set-in-progress"
	case TagResultDataBlockNumberInvalid:
		return "data-block-number-invalid"
	case TagResultOtherReason:
		return "other-reason"
	default:
		return "unknown"
	}
}

type ReleaseRequestReason byte

const (
	ReleaseRequestReasonNormal ReleaseRequestReason = 0
)
