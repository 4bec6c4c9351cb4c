package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"ringkv/internal/address"
	"ringkv/internal/message"
	"ringkv/internal/node"
	"ringkv/internal/replication"
)

// Op names a scenario step.
type Op string

const (
	OpCreate Op = "create"
	OpRead   Op = "read"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpFail   Op = "fail"
)

// Scenario is a timed workload loaded from YAML.
type Scenario struct {
	Name     string  `yaml:"name"`
	Nodes    int     `yaml:"nodes"`
	Ticks    int     `yaml:"ticks"`
	DropRate float64 `yaml:"drop_rate"`
	Seed     int64   `yaml:"seed"`
	Stagger  bool    `yaml:"stagger_joins"`
	Steps    []Step  `yaml:"steps"`
}

// Step is one action at tick At. With Count > 0 the step expands to Count
// keys named "<Key>-<i>" with values "<Value>-<i>". Node picks the
// coordinator (or the victim of a fail step); empty means a random live
// node.
type Step struct {
	At    int    `yaml:"at"`
	Op    Op     `yaml:"op"`
	Node  string `yaml:"node,omitempty"`
	Key   string `yaml:"key,omitempty"`
	Value string `yaml:"value,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every step can run.
func (s *Scenario) Validate() error {
	var errs []error
	if s.Nodes <= 0 {
		errs = append(errs, fmt.Errorf("nodes must be positive, got %d", s.Nodes))
	}
	if s.DropRate < 0 || s.DropRate > 1 {
		errs = append(errs, fmt.Errorf("drop_rate must be within [0,1], got %v", s.DropRate))
	}
	for i, st := range s.Steps {
		switch st.Op {
		case OpCreate, OpRead, OpUpdate, OpDelete:
			if st.Key == "" {
				errs = append(errs, fmt.Errorf("step %d: %s needs a key", i, st.Op))
			}
		case OpFail:
		default:
			errs = append(errs, fmt.Errorf("step %d: unknown op %q", i, st.Op))
		}
		if st.Node != "" {
			if _, err := address.Parse(st.Node); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", i, err))
			}
		}
		if st.At < 0 || st.Count < 0 {
			errs = append(errs, fmt.Errorf("step %d: at and count must not be negative", i))
		}
		if s.Ticks > 0 && st.At > s.Ticks {
			errs = append(errs, fmt.Errorf("step %d: at %d is past the last tick %d", i, st.At, s.Ticks))
		}
	}
	return errors.Join(errs...)
}

// DefaultScenario is the workload "ringkv simulate" runs without a file:
// let the group form, write a batch of keys, crash a node, then read,
// update and delete everything through the survivors.
func DefaultScenario(nodes int) *Scenario {
	return &Scenario{
		Name:    "default",
		Nodes:   nodes,
		Ticks:   200,
		Seed:    1,
		Stagger: true,
		Steps: []Step{
			{At: 50, Op: OpCreate, Key: "key", Value: "value", Count: 100},
			{At: 70, Op: OpRead, Key: "key", Count: 100},
			{At: 90, Op: OpFail},
			{At: 120, Op: OpRead, Key: "key", Count: 100},
			{At: 140, Op: OpUpdate, Key: "key", Value: "updated", Count: 100},
			{At: 160, Op: OpDelete, Key: "key", Count: 50},
			{At: 180, Op: OpRead, Key: "key", Count: 100},
		},
	}
}

// Options returns cluster options for the scenario on top of base.
func (s *Scenario) Options(base Options) Options {
	base.Nodes = s.Nodes
	base.DropRate = s.DropRate
	base.Seed = s.Seed
	base.StaggerJoins = s.Stagger
	return base
}

// Summary counts the client-visible outcomes of a run.
type Summary struct {
	Ticks     int
	Issued    int
	Rejected  int
	Success   map[message.Kind]int
	Failure   map[message.Kind]int
	TimedOut  int
	Internal  int
	Failed    []address.Address
	LiveNodes int
}

// Run drives c through s and summarises the outcome. It stops early if
// ctx is cancelled.
func Run(ctx context.Context, c *Cluster, s *Scenario, log *logrus.Entry) (Summary, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	rng := rand.New(rand.NewSource(s.Seed))

	steps := append([]Step(nil), s.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].At < steps[j].At })

	ticks := s.Ticks
	if ticks == 0 && len(steps) > 0 {
		ticks = steps[len(steps)-1].At + 20
	}

	sum := Summary{Success: map[message.Kind]int{}, Failure: map[message.Kind]int{}}
	next := 0
	for tick := 1; tick <= ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		c.Step()

		for next < len(steps) && steps[next].At <= tick {
			st := steps[next]
			next++
			if err := apply(c, st, rng, &sum, log); err != nil {
				return sum, err
			}
		}
		sum.Ticks = tick
	}

	for _, o := range c.Results() {
		if o.Internal {
			sum.Internal++
			continue
		}
		if o.Success {
			sum.Success[o.Op]++
		} else {
			sum.Failure[o.Op]++
		}
		if o.TimedOut {
			sum.TimedOut++
		}
	}
	sum.LiveNodes = len(c.Live())
	return sum, nil
}

func apply(c *Cluster, st Step, rng *rand.Rand, sum *Summary, log *logrus.Entry) error {
	target, err := pick(c, st.Node, rng)
	if err != nil {
		return err
	}

	if st.Op == OpFail {
		sum.Failed = append(sum.Failed, target.Self())
		return c.Fail(target.Self())
	}

	n := st.Count
	keyed := n > 0
	if !keyed {
		n = 1
	}

	for i := 0; i < n; i++ {
		key, value := st.Key, st.Value
		if keyed {
			key = fmt.Sprintf("%s-%d", st.Key, i)
			if st.Value != "" {
				value = fmt.Sprintf("%s-%d", st.Value, i)
			}
		}

		var err error
		switch st.Op {
		case OpCreate:
			_, err = target.Create(key, value)
		case OpRead:
			_, err = target.Read(key)
		case OpUpdate:
			_, err = target.Update(key, value)
		case OpDelete:
			_, err = target.Delete(key)
		}
		sum.Issued++
		if err != nil {
			sum.Rejected++
			if !errors.Is(err, replication.ErrInsufficientReplicas) && !errors.Is(err, node.ErrStopped) {
				return err
			}
			log.WithError(err).WithFields(logrus.Fields{"op": string(st.Op), "key": key}).Warn("Operation rejected")
		}
	}
	return nil
}

func pick(c *Cluster, want string, rng *rand.Rand) (*node.Node, error) {
	if want != "" {
		addr, err := address.Parse(want)
		if err != nil {
			return nil, err
		}
		n := c.Node(addr)
		if n == nil {
			return nil, fmt.Errorf("sim: no node %s", addr)
		}
		return n, nil
	}

	live := c.Live()
	if len(live) == 0 {
		return nil, errors.New("sim: no live node")
	}
	return live[rng.Intn(len(live))], nil
}
