package queue

import "strconv"

const (
	// WriteQueue is the write-behind log drained by the persistence pump.
	WriteQueue = "chess:db_write_queue"
	// DeadLetterQueue receives the raw payload of tasks that failed to apply.
	DeadLetterQueue = WriteQueue + ":dead"

	matchmakingPrefix = "chess:matchmaking_queue:"
)

// MatchmakingBucket names the FIFO of identities waiting for a game at the
// given time control (seconds per side).
func MatchmakingBucket(timeControl int) string {
	return matchmakingPrefix + strconv.Itoa(timeControl)
}
