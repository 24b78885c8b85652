package flagengine

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// anonymousSubject is hashed in place of a missing user id so that anonymous
// traffic lands in a single deterministic bucket instead of flapping.
const anonymousSubject = "anonymous"

// bucketFor maps a user id to a stable bucket in [0, 100).
//
// The flag key is mixed in as a salt so that a user who wins the rollout
// lottery for one flag is not automatically in the rollout of every other
// flag. Murmur3 (32-bit) gives uniform distribution and is cheap; the exact
// algorithm is never persisted or compared cross-service, only its
// determinism matters.
func bucketFor(userID, flagKey string) int {
	subject := userID
	if subject == "" {
		subject = anonymousSubject
	}

	h := murmur3.New32()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%s", subject, flagKey)))

	return int(h.Sum32() % 100)
}
