package quorum

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"ringkv/internal/address"
	"ringkv/internal/message"
)

// TestQuorum_Property_WriteFirstToTwo enumerates every ordered sequence of
// up to three replies and checks the write tally resolves to whichever of
// success or failure reaches two first.
func TestQuorum_Property_WriteFirstToTwo(t *testing.T) {
	for n := 0; n <= 3; n++ {
		for mask := 0; mask < 1<<n; mask++ {
			replies := make([]bool, n)
			for i := range replies {
				replies[i] = mask&(1<<i) != 0
			}

			t.Run(fmt.Sprint(replies), func(t *testing.T) {
				w, _ := NewWrite(3, 2)
				var k, f, terminal int
				want := Pending
				for i, ok := range replies {
					if want == Pending {
						if ok {
							k++
						} else {
							f++
						}
						if k == 2 {
							want = Success
						} else if f == 2 {
							want = Failure
						}
					}
					if _, done := w.Record(address.New(int32(i+1), 0), ok); done {
						terminal++
					}
				}
				assert.Equal(t, want, w.Outcome())
				if want == Pending {
					assert.Equal(t, 0, terminal)
				} else {
					assert.Equal(t, 1, terminal, "terminal exactly once")
				}
			})
		}
	}
}

// TestQuorum_Property_ReadTwoEqualNonSentinel checks every combination of
// three values drawn from a small alphabet including the miss sentinel.
func TestQuorum_Property_ReadTwoEqualNonSentinel(t *testing.T) {
	alphabet := []string{"x", "y", message.MissSentinel}

	for _, v1 := range alphabet {
		for _, v2 := range alphabet {
			for _, v3 := range alphabet {
				values := []string{v1, v2, v3}
				t.Run(fmt.Sprint(values), func(t *testing.T) {
					r, _ := NewRead(3)
					for i, v := range values {
						r.Record(address.New(int32(i+1), 0), v)
					}

					majority := ""
					for _, candidate := range []string{"x", "y"} {
						n := 0
						for _, v := range values {
							if v == candidate {
								n++
							}
						}
						if n >= 2 {
							majority = candidate
						}
					}

					if majority != "" {
						assert.Equal(t, Success, r.Outcome())
						assert.Equal(t, majority, r.Value())
					} else {
						assert.Equal(t, Failure, r.Outcome())
					}
				})
			}
		}
	}
}
