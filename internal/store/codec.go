package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// encodeState serializes state as it will look once saved at version next.
func encodeState(state *model.WorkflowState, next int64) ([]byte, error) {
	cp := state.Clone()
	cp.Version = next
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal state")
	}
	return data, nil
}

func decodeState(data []byte, version int64) (*model.WorkflowState, error) {
	var st model.WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal state")
	}
	st.Version = version
	return &st, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func reverseRecords(recs []model.ActionRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
