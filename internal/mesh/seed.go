// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mesh

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
)

// seedLease is the on-disk JSON shape of one session lease, exactly as
// described by the sessions-file schema: a flat JSON array, independent of
// the HCL process configuration.
type seedLease struct {
	SessionID           string   `json:"session_id"`
	SessionToken        string   `json:"session_token"`
	EgressProfile       string   `json:"egress_profile"`
	DestinationPolicyID string   `json:"destination_policy_id"`
	AllowedDestinations []string `json:"allowed_destinations"`
	ExpiresAtEpochSecs  int64    `json:"expires_at_epoch_seconds"`
}

// LoadSeedFile reads a JSON array of session leases from path and inserts
// each into reg. A missing file is not an error — the registry simply
// starts empty, matching the seed file's optional role in the gateway
// config.
func LoadSeedFile(path string, reg *SessionRegistry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var raw []seedLease
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for _, sl := range raw {
		sessionID := sl.SessionID
		if sessionID == "" {
			// The sessions-file schema allows an operator to omit session_id
			// and have the node mint the opaque UUID identity itself, rather
			// than requiring every caller to generate one out of band.
			sessionID = uuid.NewString()
		}
		lease := NewLease(
			sessionID,
			sl.SessionToken,
			sl.EgressProfile,
			sl.DestinationPolicyID,
			sl.AllowedDestinations,
			time.Unix(sl.ExpiresAtEpochSecs, 0),
		)
		reg.Add(lease)
	}
	return nil
}
