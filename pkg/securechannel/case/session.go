package casesession

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/nodeforge/fabricd/pkg/crypto"
	"github.com/nodeforge/fabricd/pkg/fabric"
)

// FabricLookupFunc resolves which fabric a Sigma1 destination ID targets.
// initiatorRandom is needed alongside destinationID because the candidate
// match is recomputed per fabric, not looked up by a stored value.
type FabricLookupFunc func(
	destinationID [DestinationIDSize]byte,
	initiatorRandom [RandomSize]byte,
) (*fabric.FabricInfo, *crypto.P256KeyPair, error)

// ResumptionLookupFunc resolves a prior session's shared secret and fabric
// identity from a resumption ID offered in Sigma1.
type ResumptionLookupFunc func(
	resumptionID [ResumptionIDSize]byte,
) (sharedSecret []byte, fabricInfo *fabric.FabricInfo, operationalKey *crypto.P256KeyPair, ok bool)

// Session drives one side of a CASE handshake.
//
// Initiator flow: NewInitiator -> Start -> HandleSigma2 (or
// HandleSigma2Resume) -> HandleStatusReport -> SessionKeys.
//
// Responder flow: NewResponder -> HandleSigma1 -> [HandleSigma3 for a full
// handshake; resumption completes inside HandleSigma1] -> SessionKeys.
type Session struct {
	role  Role
	state State

	fabricInfo     *fabric.FabricInfo
	operationalKey *crypto.P256KeyPair
	targetNodeID   uint64

	fabricLookup     FabricLookupFunc
	resumptionLookup ResumptionLookupFunc
	certValidator    ValidatePeerCertChainFunc

	localSessionID uint16
	peerSessionID  uint16

	localRandom [RandomSize]byte
	peerRandom  [RandomSize]byte

	ephKeyPair    *crypto.P256KeyPair
	peerEphPubKey [crypto.P256PublicKeySizeBytes]byte

	sharedSecret []byte
	ipk          [crypto.SymmetricKeySize]byte

	// resumeWith is set by an initiator attempting to resume a prior
	// session; newResumptionID is the value either side issues for the
	// session currently being established.
	resumeWith      *ResumptionInfo
	newResumptionID [ResumptionIDSize]byte

	// transcript1/2/3 are the raw encoded messages, kept for the session
	// key derivation functions which hash them directly.
	transcript1 []byte
	transcript2 []byte
	transcript3 []byte

	sessionKeys    *SessionKeys
	usedResumption bool

	peerNOC    []byte
	peerICAC   []byte
	peerNodeID uint64

	localMRPParams *MRPParameters
	peerMRPParams  *MRPParameters

	entropy io.Reader // overridable for deterministic tests

	mu sync.Mutex
}

// NewInitiator creates a CASE session that will initiate the handshake
// toward targetNodeID using the given fabric credentials.
func NewInitiator(
	fabricInfo *fabric.FabricInfo,
	operationalKey *crypto.P256KeyPair,
	targetNodeID uint64,
) *Session {
	return &Session{
		role:           RoleInitiator,
		state:          StateInit,
		fabricInfo:     fabricInfo,
		operationalKey: operationalKey,
		targetNodeID:   targetNodeID,
		ipk:            deriveIPK(fabricInfo),
		entropy:        rand.Reader,
	}
}

// NewResponder creates a CASE session that will respond to a peer's Sigma1.
// resumptionLookup may be nil if this node never offers resumption.
func NewResponder(
	fabricLookup FabricLookupFunc,
	resumptionLookup ResumptionLookupFunc,
) *Session {
	return &Session{
		role:             RoleResponder,
		state:            StateInit,
		fabricLookup:     fabricLookup,
		resumptionLookup: resumptionLookup,
		entropy:          rand.Reader,
	}
}

// deriveIPK computes the operational group key used to encrypt Sigma2/
// Sigma3 payloads from a fabric's epoch key and compressed fabric ID.
func deriveIPK(fabricInfo *fabric.FabricInfo) [crypto.SymmetricKeySize]byte {
	var ipk [crypto.SymmetricKeySize]byte
	raw, _ := crypto.DeriveGroupOperationalKeyV1(fabricInfo.IPK[:], fabricInfo.CompressedFabricID[:])
	copy(ipk[:], raw)
	return ipk
}

// WithResumption attaches a prior session's resumption material, causing
// Start to attempt Sigma1 resumption fields. Initiator only.
func (s *Session) WithResumption(info *ResumptionInfo) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeWith = info
	return s
}

// WithMRPParams sets the MRP parameters this side advertises in its Sigma
// message.
func (s *Session) WithMRPParams(params *MRPParameters) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localMRPParams = params
	return s
}

// WithCertValidator installs the callback used to validate the peer's NOC
// chain and verify its Sigma signature. Without one, both checks are
// skipped — acceptable for tests, never for production deployments.
func (s *Session) WithCertValidator(validator ValidatePeerCertChainFunc) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certValidator = validator
	return s
}

// Start begins the handshake, returning the encoded Sigma1 to send.
// Initiator only.
func (s *Session) Start(localSessionID uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleInitiator, StateInit); err != nil {
		return nil, err
	}

	s.localSessionID = localSessionID
	if err := s.fillRandom(s.localRandom[:]); err != nil {
		return nil, err
	}

	var err error
	s.ephKeyPair, err = crypto.P256GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	var rootPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(rootPubKey[:], s.fabricInfo.RootPublicKey[:])

	sigma1 := &Sigma1{
		InitiatorRandom: s.localRandom,
		InitiatorSessionID: s.localSessionID,
		DestinationID: GenerateDestinationID(
			s.localRandom,
			rootPubKey,
			uint64(s.fabricInfo.FabricID),
			s.targetNodeID,
			s.ipk,
		),
		MRPParams: s.localMRPParams,
	}
	copy(sigma1.InitiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

	if s.resumeWith != nil {
		sigma1.ResumptionID = &s.resumeWith.ResumptionID

		s1rk, err := DeriveS1RK(s.resumeWith.SharedSecret, s.localRandom, s.resumeWith.ResumptionID)
		if err != nil {
			return nil, fmt.Errorf("derive S1RK: %w", err)
		}
		mic, err := ComputeResumeMIC(s1rk, Resume1Nonce)
		if err != nil {
			return nil, fmt.Errorf("compute Resume1MIC: %w", err)
		}
		sigma1.InitiatorResumeMIC = &mic
	}

	encoded, err := sigma1.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode Sigma1: %w", err)
	}
	s.transcript1 = encoded

	if s.resumeWith != nil {
		s.state = StateWaitingSigma2Resume
	} else {
		s.state = StateWaitingSigma2
	}
	return encoded, nil
}

// HandleSigma1 processes an incoming Sigma1 and returns the response
// (Sigma2 or Sigma2Resume) along with whether resumption was granted.
// Responder only.
func (s *Session) HandleSigma1(data []byte, localSessionID uint16) (response []byte, isResumption bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleResponder, StateInit); err != nil {
		return nil, false, err
	}

	sigma1, err := DecodeSigma1(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode Sigma1: %w", err)
	}

	hasResumptionID := sigma1.ResumptionID != nil
	hasResumeMIC := sigma1.InitiatorResumeMIC != nil
	if hasResumptionID != hasResumeMIC {
		return nil, false, ErrMissingResumptionField
	}

	s.transcript1 = data
	s.localSessionID = localSessionID
	s.peerSessionID = sigma1.InitiatorSessionID
	s.peerRandom = sigma1.InitiatorRandom
	s.peerMRPParams = sigma1.MRPParams
	copy(s.peerEphPubKey[:], sigma1.InitiatorEphPubKey[:])

	if hasResumptionID && s.resumptionLookup != nil {
		if resp, ok := s.tryResume(sigma1); ok {
			return resp, true, nil
		}
		// Resumption didn't validate; fall through to a full handshake.
	}

	fabricInfo, operationalKey, err := s.fabricLookup(sigma1.DestinationID, sigma1.InitiatorRandom)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrNoSharedRoot, err)
	}
	s.fabricInfo = fabricInfo
	s.operationalKey = operationalKey
	s.ipk = deriveIPK(fabricInfo)

	resp, err := s.buildSigma2(sigma1)
	return resp, false, err
}

// tryResume attempts to validate a resumption request and, on success,
// produces the Sigma2Resume response. ok is false if resumption was not
// attempted or the MIC failed to verify.
func (s *Session) tryResume(sigma1 *Sigma1) (response []byte, ok bool) {
	sharedSecret, fabricInfo, operationalKey, found := s.resumptionLookup(*sigma1.ResumptionID)
	if !found {
		return nil, false
	}

	s1rk, err := DeriveS1RK(sharedSecret, sigma1.InitiatorRandom, *sigma1.ResumptionID)
	if err != nil || !VerifyResumeMIC(s1rk, Resume1Nonce, *sigma1.InitiatorResumeMIC) {
		return nil, false
	}

	s.fabricInfo = fabricInfo
	s.operationalKey = operationalKey
	s.sharedSecret = sharedSecret
	s.ipk = deriveIPK(fabricInfo)

	resp, err := s.buildSigma2Resume(sigma1)
	if err != nil {
		return nil, false
	}
	return resp, true
}

// buildSigma2 computes the responder's ephemeral key, shared secret, and
// signed/encrypted TBEData2, advancing the responder to StateWaitingSigma3.
func (s *Session) buildSigma2(sigma1 *Sigma1) ([]byte, error) {
	if err := s.fillRandom(s.localRandom[:]); err != nil {
		return nil, err
	}

	var err error
	s.ephKeyPair, err = crypto.P256GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	if err := s.fillRandom(s.newResumptionID[:]); err != nil {
		return nil, err
	}

	s.sharedSecret, err = crypto.P256ECDH(s.ephKeyPair, sigma1.InitiatorEphPubKey[:])
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	var responderEphPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(responderEphPubKey[:], s.ephKeyPair.P256PublicKey())

	signature, err := s.signTBS2(responderEphPubKey, sigma1.InitiatorEphPubKey)
	if err != nil {
		return nil, err
	}

	tbeData2 := &TBEData2{
		ResponderNOC:  s.fabricInfo.NOC,
		ResponderICAC: s.fabricInfo.ICAC,
		ResumptionID:  s.newResumptionID,
	}
	copy(tbeData2.Signature[:], signature)
	tbeData2Bytes, err := tbeData2.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode TBEData2: %w", err)
	}

	s2k, err := DeriveS2K(s.sharedSecret, s.ipk, s.localRandom, responderEphPubKey, s.transcript1)
	if err != nil {
		return nil, fmt.Errorf("derive S2K: %w", err)
	}
	encrypted2, err := EncryptTBEData(s2k, tbeData2Bytes, Sigma2Nonce, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt TBEData2: %w", err)
	}

	sigma2 := &Sigma2{
		ResponderRandom:    s.localRandom,
		ResponderSessionID: s.localSessionID,
		ResponderEphPubKey: responderEphPubKey,
		Encrypted2:         encrypted2,
		MRPParams:          s.localMRPParams,
	}
	encoded, err := sigma2.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode Sigma2: %w", err)
	}
	s.transcript2 = encoded
	s.state = StateWaitingSigma3
	return encoded, nil
}

func (s *Session) signTBS2(responderEphPubKey, initiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte) ([]byte, error) {
	tbs := &TBSData2{
		ResponderNOC:       s.fabricInfo.NOC,
		ResponderICAC:      s.fabricInfo.ICAC,
		ResponderEphPubKey: responderEphPubKey,
		InitiatorEphPubKey: initiatorEphPubKey,
	}
	tbsBytes, err := tbs.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode TBSData2: %w", err)
	}
	signature, err := crypto.P256Sign(s.operationalKey, tbsBytes)
	if err != nil {
		return nil, fmt.Errorf("sign TBSData2: %w", err)
	}
	return signature, nil
}

// buildSigma2Resume finishes a resumed handshake immediately: unlike a
// full handshake, resumption derives session keys right away because
// there is no Sigma3 step.
func (s *Session) buildSigma2Resume(sigma1 *Sigma1) ([]byte, error) {
	if err := s.fillRandom(s.newResumptionID[:]); err != nil {
		return nil, err
	}

	s2rk, err := DeriveS2RK(s.sharedSecret, sigma1.InitiatorRandom, s.newResumptionID)
	if err != nil {
		return nil, fmt.Errorf("derive S2RK: %w", err)
	}
	resume2MIC, err := ComputeResumeMIC(s2rk, Resume2Nonce)
	if err != nil {
		return nil, fmt.Errorf("compute Resume2MIC: %w", err)
	}

	sigma2Resume := &Sigma2Resume{
		ResumptionID:       s.newResumptionID,
		Resume2MIC:         resume2MIC,
		ResponderSessionID: s.localSessionID,
		MRPParams:          s.localMRPParams,
	}
	encoded, err := sigma2Resume.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode Sigma2Resume: %w", err)
	}
	s.transcript2 = encoded
	s.usedResumption = true

	s.sessionKeys, err = DeriveResumptionSessionKeys(s.sharedSecret, s.ipk, s.transcript1, s.transcript2)
	if err != nil {
		return nil, fmt.Errorf("derive session keys: %w", err)
	}
	s.state = StateComplete
	return encoded, nil
}

// HandleSigma2 processes an incoming Sigma2 and returns the encoded Sigma3
// to send. Initiator only.
func (s *Session) HandleSigma2(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleInitiator {
		return nil, fmt.Errorf("%w: HandleSigma2() only valid for initiator", ErrInvalidState)
	}
	// A Sigma2 is acceptable even while waiting on a resumption response:
	// the responder may decline resumption and fall back to a full handshake.
	if s.state != StateWaitingSigma2 && s.state != StateWaitingSigma2Resume {
		return nil, fmt.Errorf("%w: expected WaitingSigma2 state, got %s", ErrInvalidState, s.state)
	}

	sigma2, err := DecodeSigma2(data)
	if err != nil {
		return nil, fmt.Errorf("decode Sigma2: %w", err)
	}

	s.transcript2 = data
	s.peerSessionID = sigma2.ResponderSessionID
	s.peerRandom = sigma2.ResponderRandom
	s.peerMRPParams = sigma2.MRPParams
	copy(s.peerEphPubKey[:], sigma2.ResponderEphPubKey[:])

	s.sharedSecret, err = crypto.P256ECDH(s.ephKeyPair, sigma2.ResponderEphPubKey[:])
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	s2k, err := DeriveS2K(s.sharedSecret, s.ipk, sigma2.ResponderRandom, sigma2.ResponderEphPubKey, s.transcript1)
	if err != nil {
		return nil, fmt.Errorf("derive S2K: %w", err)
	}
	tbeData2Bytes, err := DecryptTBEData(s2k, sigma2.Encrypted2, Sigma2Nonce, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	tbeData2, err := DecodeTBEData2(tbeData2Bytes)
	if err != nil {
		return nil, fmt.Errorf("decode TBEData2: %w", err)
	}

	s.peerNOC = tbeData2.ResponderNOC
	s.peerICAC = tbeData2.ResponderICAC
	s.newResumptionID = tbeData2.ResumptionID

	if s.certValidator != nil {
		var initiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
		copy(initiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

		tbs := &TBSData2{
			ResponderNOC:       tbeData2.ResponderNOC,
			ResponderICAC:      tbeData2.ResponderICAC,
			ResponderEphPubKey: sigma2.ResponderEphPubKey,
			InitiatorEphPubKey: initiatorEphPubKey,
		}
		if err := s.verifyPeer(tbeData2.ResponderNOC, tbeData2.ResponderICAC, tbs, tbeData2.Signature[:], s.targetNodeID, 0); err != nil {
			return nil, err
		}
	}

	return s.buildSigma3()
}

func (s *Session) buildSigma3() ([]byte, error) {
	var initiatorEphPubKey [crypto.P256PublicKeySizeBytes]byte
	copy(initiatorEphPubKey[:], s.ephKeyPair.P256PublicKey())

	tbs := &TBSData3{
		InitiatorNOC:       s.fabricInfo.NOC,
		InitiatorICAC:      s.fabricInfo.ICAC,
		InitiatorEphPubKey: initiatorEphPubKey,
		ResponderEphPubKey: s.peerEphPubKey,
	}
	tbsBytes, err := tbs.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode TBSData3: %w", err)
	}
	signature, err := crypto.P256Sign(s.operationalKey, tbsBytes)
	if err != nil {
		return nil, fmt.Errorf("sign TBSData3: %w", err)
	}

	tbeData3 := &TBEData3{
		InitiatorNOC:  s.fabricInfo.NOC,
		InitiatorICAC: s.fabricInfo.ICAC,
	}
	copy(tbeData3.Signature[:], signature)
	tbeData3Bytes, err := tbeData3.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode TBEData3: %w", err)
	}

	s3k, err := DeriveS3K(s.sharedSecret, s.ipk, s.transcript1, s.transcript2)
	if err != nil {
		return nil, fmt.Errorf("derive S3K: %w", err)
	}
	encrypted3, err := EncryptTBEData(s3k, tbeData3Bytes, Sigma3Nonce, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt TBEData3: %w", err)
	}

	sigma3 := &Sigma3{Encrypted3: encrypted3}
	encoded, err := sigma3.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode Sigma3: %w", err)
	}
	s.transcript3 = encoded
	s.state = StateWaitingStatusReport
	return encoded, nil
}

// HandleSigma2Resume processes a Sigma2Resume, completing a resumed
// handshake. Initiator only.
func (s *Session) HandleSigma2Resume(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleInitiator, StateWaitingSigma2Resume); err != nil {
		return err
	}
	if s.resumeWith == nil {
		return fmt.Errorf("%w: no resumption info available", ErrResumptionFailed)
	}

	sigma2Resume, err := DecodeSigma2Resume(data)
	if err != nil {
		return fmt.Errorf("decode Sigma2Resume: %w", err)
	}

	s.transcript2 = data
	s.peerSessionID = sigma2Resume.ResponderSessionID
	s.peerMRPParams = sigma2Resume.MRPParams
	s.newResumptionID = sigma2Resume.ResumptionID
	s.sharedSecret = s.resumeWith.SharedSecret

	s2rk, err := DeriveS2RK(s.sharedSecret, s.localRandom, sigma2Resume.ResumptionID)
	if err != nil {
		return fmt.Errorf("derive S2RK: %w", err)
	}
	if !VerifyResumeMIC(s2rk, Resume2Nonce, sigma2Resume.Resume2MIC) {
		return ErrInvalidResumeMIC
	}

	s.sessionKeys, err = DeriveResumptionSessionKeys(s.sharedSecret, s.ipk, s.transcript1, s.transcript2)
	if err != nil {
		return fmt.Errorf("derive session keys: %w", err)
	}

	s.usedResumption = true
	s.state = StateComplete
	return nil
}

// HandleSigma3 processes an incoming Sigma3, completing a full handshake.
// Responder only.
func (s *Session) HandleSigma3(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleResponder, StateWaitingSigma3); err != nil {
		return err
	}

	sigma3, err := DecodeSigma3(data)
	if err != nil {
		return fmt.Errorf("decode Sigma3: %w", err)
	}
	s.transcript3 = data

	s3k, err := DeriveS3K(s.sharedSecret, s.ipk, s.transcript1, s.transcript2)
	if err != nil {
		return fmt.Errorf("derive S3K: %w", err)
	}
	tbeData3Bytes, err := DecryptTBEData(s3k, sigma3.Encrypted3, Sigma3Nonce, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	tbeData3, err := DecodeTBEData3(tbeData3Bytes)
	if err != nil {
		return fmt.Errorf("decode TBEData3: %w", err)
	}

	s.peerNOC = tbeData3.InitiatorNOC
	s.peerICAC = tbeData3.InitiatorICAC

	if s.certValidator != nil {
		var responderEphPubKey [crypto.P256PublicKeySizeBytes]byte
		copy(responderEphPubKey[:], s.ephKeyPair.P256PublicKey())

		tbs := &TBSData3{
			InitiatorNOC:       tbeData3.InitiatorNOC,
			InitiatorICAC:      tbeData3.InitiatorICAC,
			InitiatorEphPubKey: s.peerEphPubKey,
			ResponderEphPubKey: responderEphPubKey,
		}
		if err := s.verifyPeer(tbeData3.InitiatorNOC, tbeData3.InitiatorICAC, tbs, tbeData3.Signature[:], 0, uint64(s.fabricInfo.FabricID)); err != nil {
			return err
		}
	}

	s.sessionKeys, err = DeriveSessionKeys(s.sharedSecret, s.ipk, s.transcript1, s.transcript2, s.transcript3)
	if err != nil {
		return fmt.Errorf("derive session keys: %w", err)
	}
	s.state = StateComplete
	return nil
}

// tbsEncoder is satisfied by TBSData2 and TBSData3, letting verifyPeer
// encode either one generically for signature verification.
type tbsEncoder interface {
	Encode() ([]byte, error)
}

// verifyPeer validates a peer's NOC/ICAC chain against this fabric's
// trusted root and checks the TBSData signature over tbs. wantNodeID,
// if nonzero, is enforced against the certificate's NodeID (the
// initiator pinning its target); wantFabricID, if nonzero, is enforced
// against the certificate's FabricID (the responder confirming the
// initiator shares its fabric).
func (s *Session) verifyPeer(noc, icac []byte, tbs tbsEncoder, signature []byte, wantNodeID, wantFabricID uint64) error {
	peerCertInfo, err := s.certValidator(noc, icac, s.fabricInfo.RootPublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if wantNodeID != 0 && peerCertInfo.NodeID != wantNodeID {
		return fmt.Errorf("%w: peer node ID %d does not match target %d",
			ErrInvalidCertificate, peerCertInfo.NodeID, wantNodeID)
	}
	if wantFabricID != 0 && peerCertInfo.FabricID != wantFabricID {
		return fmt.Errorf("%w: peer fabric ID %d does not match expected %d",
			ErrInvalidCertificate, peerCertInfo.FabricID, wantFabricID)
	}
	s.peerNodeID = peerCertInfo.NodeID

	tbsBytes, err := tbs.Encode()
	if err != nil {
		return fmt.Errorf("encode TBSData for verification: %w", err)
	}
	valid, err := crypto.P256Verify(peerCertInfo.PublicKey[:], tbsBytes, signature)
	if err != nil || !valid {
		return fmt.Errorf("%w: TBSData signature verification failed", ErrSignatureInvalid)
	}
	return nil
}

// HandleStatusReport processes the handshake's final status, deriving
// session keys on success. Initiator only.
func (s *Session) HandleStatusReport(success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRoleState(RoleInitiator, StateWaitingStatusReport); err != nil {
		return err
	}
	if !success {
		s.state = StateFailed
		return ErrInvalidStatusReport
	}

	var err error
	s.sessionKeys, err = DeriveSessionKeys(s.sharedSecret, s.ipk, s.transcript1, s.transcript2, s.transcript3)
	if err != nil {
		return fmt.Errorf("derive session keys: %w", err)
	}
	s.state = StateComplete
	return nil
}

// requireRoleState returns ErrInvalidState if the session isn't in wantRole
// acting as wantState; every handshake step starts by calling this.
func (s *Session) requireRoleState(wantRole Role, wantState State) error {
	if s.role != wantRole {
		return fmt.Errorf("%w: operation only valid for %s", ErrInvalidState, wantRole)
	}
	if s.state != wantState {
		return fmt.Errorf("%w: expected %s state, got %s", ErrInvalidState, wantState, s.state)
	}
	return nil
}

// fillRandom reads len(b) bytes of entropy into b.
func (s *Session) fillRandom(b []byte) error {
	if _, err := io.ReadFull(s.entropy, b); err != nil {
		return fmt.Errorf("generate random: %w", err)
	}
	return nil
}

// SessionKeys returns the derived session keys. Only valid once State is
// StateComplete.
func (s *Session) SessionKeys() (*SessionKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateComplete {
		return nil, ErrSessionNotReady
	}
	return s.sessionKeys, nil
}

// Role returns whether this session is acting as initiator or responder.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalSessionID returns our session ID.
func (s *Session) LocalSessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSessionID
}

// PeerSessionID returns the peer's session ID.
func (s *Session) PeerSessionID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerSessionID
}

// UsedResumption reports whether the handshake completed via resumption.
func (s *Session) UsedResumption() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedResumption
}

// ResumptionID returns the resumption ID issued for this session, usable
// to resume a future session in its place.
func (s *Session) ResumptionID() [ResumptionIDSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newResumptionID
}

// SharedSecret returns a copy of the ECDH shared secret, for callers
// persisting resumption state.
func (s *Session) SharedSecret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret := make([]byte, len(s.sharedSecret))
	copy(secret, s.sharedSecret)
	return secret
}

// PeerMRPParams returns the peer's advertised MRP parameters, if any.
func (s *Session) PeerMRPParams() *MRPParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerMRPParams
}

// PeerNodeID returns the peer's operational node ID, extracted from its NOC
// by the cert validator. Zero if no cert validator was installed.
func (s *Session) PeerNodeID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerNodeID
}

// FabricIndex returns the local fabric index this session was established
// under.
func (s *Session) FabricIndex() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fabricInfo == nil {
		return 0
	}
	return uint8(s.fabricInfo.FabricIndex)
}

// PeerCATs returns the peer's CASE Authenticated Tags, carried over from
// resumption state when the session completed via resumption. A full
// handshake has no CATs source until NOC-embedded CAT extraction is wired
// into the cert validator, so it returns nil in that case.
func (s *Session) PeerCATs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumeWith != nil {
		return s.resumeWith.PeerCATs
	}
	return nil
}
