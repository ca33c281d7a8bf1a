package health

import (
	"context"
	"log/slog"

	"exanodes.dev/vrt/brokentable"
	"exanodes.dev/vrt/cluster"
	"exanodes.dev/vrt/uuid"
)

// ReconcileTopic is the broadcast topic used to collect every peer's
// local broken-disk table during a recovery pass.
const ReconcileTopic = "exanodes.health.reconcile"

// TableState is one node's contribution to a recovery pass: its local
// broken-disk table version and contents, tagged with its node id so
// ties can be broken deterministically.
type TableState struct {
	NodeID  uint32
	Version uint64
	UUIDs   []uuid.UUID
}

// Reconcile gathers every live peer's broken-disk table (via bcast on
// ReconcileTopic) plus the local one, picks a winner, and adopts it
// into local. The highest version wins; ties are broken by lowest
// node_id.
func Reconcile(ctx context.Context, log *slog.Logger, bcast cluster.Broadcaster, local *brokentable.Table, localNodeID uint32) error {
	if log == nil {
		log = slog.Default()
	}

	version, uuids := local.Snapshot()
	candidates := []TableState{{NodeID: localNodeID, Version: version, UUIDs: uuids}}

	payload, err := cluster.Encode(TableState{NodeID: localNodeID, Version: version, UUIDs: uuids})
	if err != nil {
		return err
	}

	replies, err := bcast.Exchange(ctx, ReconcileTopic, payload)
	if err != nil {
		return err
	}

	for _, reply := range replies {
		var ts TableState
		if err := cluster.Decode(reply.Payload, &ts); err != nil {
			log.Warn("reconcile: dropping malformed peer reply", "error", err)
			continue
		}
		candidates = append(candidates, ts)
	}

	winner := pickWinner(candidates)

	log.Info("recovery pass reconciled", "winner_node", winner.NodeID, "version", winner.Version, "broken_count", len(winner.UUIDs))

	return local.Adopt(winner.Version, winner.UUIDs)
}

// pickWinner implements the highest-version, lowest-node-id-on-tie
// selection rule. candidates is never empty: the caller always seeds it
// with the local state.
func pickWinner(candidates []TableState) TableState {
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.Version > winner.Version || (c.Version == winner.Version && c.NodeID < winner.NodeID) {
			winner = c
		}
	}
	return winner
}

// RegisterReconcileHandler wires local into bcast so this node answers
// other nodes' recovery passes with its own table state.
func RegisterReconcileHandler(bcast cluster.Broadcaster, local *brokentable.Table, localNodeID uint32) (func(), error) {
	return bcast.Subscribe(ReconcileTopic, func(payload []byte) []byte {
		version, uuids := local.Snapshot()
		reply, err := cluster.Encode(TableState{NodeID: localNodeID, Version: version, UUIDs: uuids})
		if err != nil {
			return nil
		}
		return reply
	})
}
