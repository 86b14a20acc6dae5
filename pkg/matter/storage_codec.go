package matter

import (
	"bytes"

	"github.com/nodeforge/fabricd/pkg/acl"
	"github.com/nodeforge/fabricd/pkg/fabric"
	"github.com/nodeforge/fabricd/pkg/tlv"
)

// Per spec, persisted values are TLV-encoded structs whose schema matches
// the in-memory type of the owning component. These encoders back the
// sqlite storage backend; MemoryStorage needs no wire format since it
// keeps live Go values.

const (
	fiTagIndex         = 0
	fiTagFabricID      = 1
	fiTagNodeID        = 2
	fiTagVendorID      = 3
	fiTagLabel         = 4
	fiTagRootCert      = 5
	fiTagNOC           = 6
	fiTagICAC          = 7
	fiTagRootPubKey    = 8
	fiTagCompressedID  = 9
	fiTagIPK           = 10
)

func encodeFabricInfo(f *fabric.FabricInfo) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(fiTagIndex), uint64(f.FabricIndex)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(fiTagFabricID), uint64(f.FabricID)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(fiTagNodeID), uint64(f.NodeID)); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(fiTagVendorID), uint64(f.VendorID)); err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(fiTagLabel), f.Label); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(fiTagRootCert), f.RootCert); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(fiTagNOC), f.NOC); err != nil {
		return nil, err
	}
	if f.ICAC != nil {
		if err := w.PutBytes(tlv.ContextTag(fiTagICAC), f.ICAC); err != nil {
			return nil, err
		}
	}
	if err := w.PutBytes(tlv.ContextTag(fiTagRootPubKey), f.RootPublicKey[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(fiTagCompressedID), f.CompressedFabricID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(fiTagIPK), f.IPK[:]); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFabricInfo(payload []byte) (*fabric.FabricInfo, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	f := &fabric.FabricInfo{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case fiTagIndex:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			f.FabricIndex = fabric.FabricIndex(v)
		case fiTagFabricID:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			f.FabricID = fabric.FabricID(v)
		case fiTagNodeID:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			f.NodeID = fabric.NodeID(v)
		case fiTagVendorID:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			f.VendorID = fabric.VendorID(v)
		case fiTagLabel:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			f.Label = v
		case fiTagRootCert:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			f.RootCert = v
		case fiTagNOC:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			f.NOC = v
		case fiTagICAC:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			f.ICAC = v
		case fiTagRootPubKey:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			copy(f.RootPublicKey[:], v)
		case fiTagCompressedID:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			copy(f.CompressedFabricID[:], v)
		case fiTagIPK:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			copy(f.IPK[:], v)
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return f, r.ExitContainer()
}

const (
	aeTagFabricIndex = 0
	aeTagPrivilege   = 1
	aeTagAuthMode    = 2
	aeTagSubjects    = 3
	aeTagTargets     = 4
)

const (
	atTagCluster    = 0
	atTagEndpoint   = 1
	atTagDeviceType = 2
)

func encodeACLEntry(w *tlv.Writer, e *acl.Entry) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(aeTagFabricIndex), uint64(e.FabricIndex)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(aeTagPrivilege), uint64(e.Privilege)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(aeTagAuthMode), uint64(e.AuthMode)); err != nil {
		return err
	}
	if err := w.StartArray(tlv.ContextTag(aeTagSubjects)); err != nil {
		return err
	}
	for _, s := range e.Subjects {
		if err := w.PutUint(tlv.Anonymous(), s); err != nil {
			return err
		}
	}
	if err := w.EndContainer(); err != nil {
		return err
	}
	if err := w.StartArray(tlv.ContextTag(aeTagTargets)); err != nil {
		return err
	}
	for _, target := range e.Targets {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if target.Cluster != nil {
			if err := w.PutUint(tlv.ContextTag(atTagCluster), uint64(*target.Cluster)); err != nil {
				return err
			}
		}
		if target.Endpoint != nil {
			if err := w.PutUint(tlv.ContextTag(atTagEndpoint), uint64(*target.Endpoint)); err != nil {
				return err
			}
		}
		if target.DeviceType != nil {
			if err := w.PutUint(tlv.ContextTag(atTagDeviceType), uint64(*target.DeviceType)); err != nil {
				return err
			}
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func decodeACLEntry(r *tlv.Reader) (*acl.Entry, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	e := &acl.Entry{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case aeTagFabricIndex:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			e.FabricIndex = fabric.FabricIndex(v)
		case aeTagPrivilege:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			e.Privilege = acl.Privilege(v)
		case aeTagAuthMode:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			e.AuthMode = acl.AuthMode(v)
		case aeTagSubjects:
			if err := r.EnterContainer(); err != nil {
				return nil, err
			}
			for {
				if err := r.Next(); err != nil {
					return nil, err
				}
				if r.IsEndOfContainer() {
					break
				}
				v, err := r.Uint()
				if err != nil {
					return nil, err
				}
				e.Subjects = append(e.Subjects, v)
			}
			if err := r.ExitContainer(); err != nil {
				return nil, err
			}
		case aeTagTargets:
			if err := r.EnterContainer(); err != nil {
				return nil, err
			}
			for {
				if err := r.Next(); err != nil {
					return nil, err
				}
				if r.IsEndOfContainer() {
					break
				}
				t, err := decodeACLTarget(r)
				if err != nil {
					return nil, err
				}
				e.Targets = append(e.Targets, t)
			}
			if err := r.ExitContainer(); err != nil {
				return nil, err
			}
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return e, r.ExitContainer()
}

func decodeACLTarget(r *tlv.Reader) (acl.Target, error) {
	var t acl.Target
	if err := r.EnterContainer(); err != nil {
		return t, err
	}
	for {
		if err := r.Next(); err != nil {
			return t, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case atTagCluster:
			v, err := r.Uint()
			if err != nil {
				return t, err
			}
			cv := uint32(v)
			t.Cluster = &cv
		case atTagEndpoint:
			v, err := r.Uint()
			if err != nil {
				return t, err
			}
			ev := uint16(v)
			t.Endpoint = &ev
		case atTagDeviceType:
			v, err := r.Uint()
			if err != nil {
				return t, err
			}
			dv := uint32(v)
			t.DeviceType = &dv
		default:
			if err := r.Skip(); err != nil {
				return t, err
			}
		}
	}
	return t, r.ExitContainer()
}

func encodeACLList(entries []*acl.Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := encodeACLEntry(w, e); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeACLList(payload []byte) ([]*acl.Entry, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	var entries []*acl.Entry
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		e, err := decodeACLEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, r.ExitContainer()
}

const (
	csTagLocalCounter   = 0
	csTagPeerCounters   = 1
	csTagGroupCounters  = 2
	pcTagFabricIndex    = 0
	pcTagNodeID         = 1
	pcTagCounter        = 2
	gcTagGroupID        = 0
	gcTagCounter        = 1
)

func encodeCounterState(c *CounterState) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(csTagLocalCounter), uint64(c.LocalCounter)); err != nil {
		return nil, err
	}
	if err := w.StartArray(tlv.ContextTag(csTagPeerCounters)); err != nil {
		return nil, err
	}
	for k, v := range c.PeerCounters {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(pcTagFabricIndex), uint64(k.FabricIndex)); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(pcTagNodeID), uint64(k.NodeID)); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(pcTagCounter), uint64(v)); err != nil {
			return nil, err
		}
		if err := w.EndContainer(); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	if err := w.StartArray(tlv.ContextTag(csTagGroupCounters)); err != nil {
		return nil, err
	}
	for k, v := range c.GroupCounters {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gcTagGroupID), uint64(k)); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gcTagCounter), uint64(v)); err != nil {
			return nil, err
		}
		if err := w.EndContainer(); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), w.EndContainer()
}

func decodeCounterState(payload []byte) (*CounterState, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	c := NewCounterState()
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case csTagLocalCounter:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			c.LocalCounter = uint32(v)
		case csTagPeerCounters:
			if err := r.EnterContainer(); err != nil {
				return nil, err
			}
			for {
				if err := r.Next(); err != nil {
					return nil, err
				}
				if r.IsEndOfContainer() {
					break
				}
				key, val, err := decodePeerCounter(r)
				if err != nil {
					return nil, err
				}
				c.PeerCounters[key] = val
			}
			if err := r.ExitContainer(); err != nil {
				return nil, err
			}
		case csTagGroupCounters:
			if err := r.EnterContainer(); err != nil {
				return nil, err
			}
			for {
				if err := r.Next(); err != nil {
					return nil, err
				}
				if r.IsEndOfContainer() {
					break
				}
				gid, val, err := decodeGroupCounter(r)
				if err != nil {
					return nil, err
				}
				c.GroupCounters[gid] = val
			}
			if err := r.ExitContainer(); err != nil {
				return nil, err
			}
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return c, r.ExitContainer()
}

func decodePeerCounter(r *tlv.Reader) (PeerKey, uint32, error) {
	var key PeerKey
	var val uint32
	if err := r.EnterContainer(); err != nil {
		return key, 0, err
	}
	for {
		if err := r.Next(); err != nil {
			return key, 0, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case pcTagFabricIndex:
			v, err := r.Uint()
			if err != nil {
				return key, 0, err
			}
			key.FabricIndex = fabric.FabricIndex(v)
		case pcTagNodeID:
			v, err := r.Uint()
			if err != nil {
				return key, 0, err
			}
			key.NodeID = fabric.NodeID(v)
		case pcTagCounter:
			v, err := r.Uint()
			if err != nil {
				return key, 0, err
			}
			val = uint32(v)
		default:
			if err := r.Skip(); err != nil {
				return key, 0, err
			}
		}
	}
	return key, val, r.ExitContainer()
}

func decodeGroupCounter(r *tlv.Reader) (uint16, uint32, error) {
	var gid uint16
	var val uint32
	if err := r.EnterContainer(); err != nil {
		return 0, 0, err
	}
	for {
		if err := r.Next(); err != nil {
			return 0, 0, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case gcTagGroupID:
			v, err := r.Uint()
			if err != nil {
				return 0, 0, err
			}
			gid = uint16(v)
		case gcTagCounter:
			v, err := r.Uint()
			if err != nil {
				return 0, 0, err
			}
			val = uint32(v)
		default:
			if err := r.Skip(); err != nil {
				return 0, 0, err
			}
		}
	}
	return gid, val, r.ExitContainer()
}

const (
	gkTagFabricIndex     = 0
	gkTagKeySetID        = 1
	gkTagEpochKey0       = 2
	gkTagEpochKey1       = 3
	gkTagEpochKey2       = 4
	gkTagEpochStart0     = 5
	gkTagEpochStart1     = 6
	gkTagEpochStart2     = 7
	gkTagSecurityPolicy  = 8
	gkTagMulticastPolicy = 9
)

func encodeGroupKeyList(keys []GroupKeyEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gkTagFabricIndex), uint64(k.FabricIndex)); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gkTagKeySetID), uint64(k.GroupKeySetID)); err != nil {
			return nil, err
		}
		if err := w.PutBytes(tlv.ContextTag(gkTagEpochKey0), k.EpochKey0); err != nil {
			return nil, err
		}
		if err := w.PutBytes(tlv.ContextTag(gkTagEpochKey1), k.EpochKey1); err != nil {
			return nil, err
		}
		if err := w.PutBytes(tlv.ContextTag(gkTagEpochKey2), k.EpochKey2); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gkTagEpochStart0), k.EpochStartTime0); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gkTagEpochStart1), k.EpochStartTime1); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gkTagEpochStart2), k.EpochStartTime2); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gkTagSecurityPolicy), uint64(k.GroupKeySecurityPolicy)); err != nil {
			return nil, err
		}
		if err := w.PutUint(tlv.ContextTag(gkTagMulticastPolicy), uint64(k.GroupKeyMulticastPolicy)); err != nil {
			return nil, err
		}
		if err := w.EndContainer(); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGroupKeyList(payload []byte) ([]GroupKeyEntry, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	var keys []GroupKeyEntry
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		k, err := decodeGroupKeyEntry(r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, r.ExitContainer()
}

func decodeGroupKeyEntry(r *tlv.Reader) (GroupKeyEntry, error) {
	var k GroupKeyEntry
	if err := r.EnterContainer(); err != nil {
		return k, err
	}
	for {
		if err := r.Next(); err != nil {
			return k, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().TagNumber() {
		case gkTagFabricIndex:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.FabricIndex = fabric.FabricIndex(v)
		case gkTagKeySetID:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.GroupKeySetID = uint16(v)
		case gkTagEpochKey0:
			v, err := r.Bytes()
			if err != nil {
				return k, err
			}
			k.EpochKey0 = v
		case gkTagEpochKey1:
			v, err := r.Bytes()
			if err != nil {
				return k, err
			}
			k.EpochKey1 = v
		case gkTagEpochKey2:
			v, err := r.Bytes()
			if err != nil {
				return k, err
			}
			k.EpochKey2 = v
		case gkTagEpochStart0:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.EpochStartTime0 = v
		case gkTagEpochStart1:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.EpochStartTime1 = v
		case gkTagEpochStart2:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.EpochStartTime2 = v
		case gkTagSecurityPolicy:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.GroupKeySecurityPolicy = uint8(v)
		case gkTagMulticastPolicy:
			v, err := r.Uint()
			if err != nil {
				return k, err
			}
			k.GroupKeyMulticastPolicy = uint8(v)
		default:
			if err := r.Skip(); err != nil {
				return k, err
			}
		}
	}
	return k, r.ExitContainer()
}
