package queue

import (
	"context"
	"fmt"
	"strconv"
)

// Chord bookkeeping: a fan-out of N vision tasks joins on a merge task.
// Each completion decrements the pending counter; whichever worker
// decrements it to zero collects the results and fires the merge.

func chordPendingKey(id string) string { return "chord:" + id + ":pending" }
func chordResultsKey(id string) string { return "chord:" + id + ":results" }
func chordPayloadKey(id string) string { return "chord:" + id + ":payload" }

// ChordState is the collected fan-out output handed to the merge stage.
type ChordState struct {
	Payload []byte
	Results map[int][]byte
}

// ChordCreate initializes the join: the pending counter and the carried
// payload the merge stage will need.
func (b *Broker) ChordCreate(ctx context.Context, id string, pending int, payload []byte) error {
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, chordPendingKey(id), pending, b.resultTTL)
	pipe.Set(ctx, chordPayloadKey(id), payload, b.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("chord create %s: %w", id, err)
	}
	return nil
}

// ChordComplete records one branch result and reports whether this was
// the last branch. Only the final caller gets done=true, so exactly one
// worker fires the merge.
func (b *Broker) ChordComplete(ctx context.Context, id string, seq int, result []byte) (bool, error) {
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, chordResultsKey(id), strconv.Itoa(seq), result)
	pipe.Expire(ctx, chordResultsKey(id), b.resultTTL)
	remaining := pipe.Decr(ctx, chordPendingKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("chord complete %s: %w", id, err)
	}
	return remaining.Val() == 0, nil
}

// ChordCollect loads the join state and deletes the bookkeeping keys.
func (b *Broker) ChordCollect(ctx context.Context, id string) (ChordState, error) {
	payload, err := b.client.Get(ctx, chordPayloadKey(id)).Bytes()
	if err != nil {
		return ChordState{}, fmt.Errorf("chord payload %s: %w", id, err)
	}
	raw, err := b.client.HGetAll(ctx, chordResultsKey(id)).Result()
	if err != nil {
		return ChordState{}, fmt.Errorf("chord results %s: %w", id, err)
	}
	st := ChordState{Payload: payload, Results: make(map[int][]byte, len(raw))}
	for k, v := range raw {
		seq, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		st.Results[seq] = []byte(v)
	}
	b.client.Del(ctx, chordPendingKey(id), chordResultsKey(id), chordPayloadKey(id))
	return st, nil
}
