package keysystem

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
)

// System IDs found in pssh boxes.
const (
	WidevineSystemID  = "edef8ba979d64acea3c827dcd51d21ed"
	PlayReadySystemID = "9a04f07998404286ab92e65be0885f95"
)

// PSSH is a decoded protection system specific header.
type PSSH struct {
	SystemID string   // lowercase hex, no dashes
	KeyIDs   []string // lowercase hex, version 1 boxes only
	Data     []byte
}

// ParseCENCInitData decodes "cenc" init data, which is a concatenation of
// one or more pssh boxes.
func ParseCENCInitData(data []byte) ([]PSSH, error) {
	r := bytes.NewReader(data)
	var (
		pos uint64
		out []PSSH
	)
	for r.Len() > 0 {
		box, err := mp4.DecodeBox(pos, r)
		if err != nil {
			return nil, fmt.Errorf("decode init data: %w", err)
		}
		pos += box.Size()

		pssh, ok := box.(*mp4.PsshBox)
		if !ok {
			return nil, fmt.Errorf("init data holds a %s box instead of pssh", box.Type())
		}
		kids := make([]string, 0, len(pssh.KIDs))
		for _, kid := range pssh.KIDs {
			kids = append(kids, hex.EncodeToString(kid))
		}
		out = append(out, PSSH{
			SystemID: hex.EncodeToString(pssh.SystemID),
			KeyIDs:   kids,
			Data:     pssh.Data,
		})
	}
	return out, nil
}

// SystemIDs lists the system IDs in "cenc" init data. Other init data
// types, or undecodable data, yield nil.
func SystemIDs(initDataType string, initData []byte) []string {
	if initDataType != InitDataTypeCENC {
		return nil
	}
	boxes, err := ParseCENCInitData(initData)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(boxes))
	for _, b := range boxes {
		ids = append(ids, b.SystemID)
	}
	return ids
}
