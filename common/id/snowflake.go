package id

import (
	"fmt"
	"hash/fnv"
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Only the first call has any effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new time-ordered int64 ID. Init must have been called.
func New() int64 {
	return node.Generate().Int64()
}

// NewString returns New formatted in base58, short enough for Redis keys and values.
func NewString() string {
	return node.Generate().Base58()
}

// MachineNode derives a snowflake node ID from the hostname and process ID.
func MachineNode() int64 {
	host, _ := os.Hostname()
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", host, os.Getpid())
	return int64(h.Sum32() % (1 << snowflake.NodeBits))
}

// InstanceID names this process as a claim owner.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), NewString())
}
