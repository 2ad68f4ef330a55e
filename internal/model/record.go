package model

// CommandKind identifies how a sink should apply a record
type CommandKind uint8

const (
	// CommandTapMutation replicates a key/value with its flags and expiry
	CommandTapMutation CommandKind = 0x41
)

// String returns the command name
func (c CommandKind) String() string {
	switch c {
	case CommandTapMutation:
		return "tap_mutation"
	default:
		return "unknown"
	}
}

// Record is one item read from a partition table
type Record struct {
	Command   CommandKind
	VBucketID uint16
	Key       string
	Flags     uint32
	Expiry    uint32
	CAS       uint64 // Always 0 for legacy sources
	Value     []byte
}

// Batch is an ordered group of records handed to a sink in one unit
type Batch struct {
	Records []Record
	bytes   int // Sum of value lengths
}

// NewBatch creates an empty batch with room for capacity records
func NewBatch(capacity int) *Batch {
	if capacity < 0 {
		capacity = 0
	}
	return &Batch{Records: make([]Record, 0, capacity)}
}

// Append adds a record and accounts for its value length
func (b *Batch) Append(rec Record) {
	b.Records = append(b.Records, rec)
	b.bytes += len(rec.Value)
}

// Len returns the number of records in the batch
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Bytes returns the accumulated value bytes
func (b *Batch) Bytes() int {
	if b == nil {
		return 0
	}
	return b.bytes
}

// Admits reports whether a value of valueLen bytes fits under maxBytes.
// An empty batch admits any single value.
func (b *Batch) Admits(valueLen, maxBytes int) bool {
	return len(b.Records) == 0 || b.bytes+valueLen <= maxBytes
}

// NodeDescriptor describes one node of a source
type NodeDescriptor struct {
	Hostname string `json:"hostname" yaml:"hostname"`
}

// BucketDescriptor describes one bucket of a source
type BucketDescriptor struct {
	Name  string           `json:"name" yaml:"name"`
	Nodes []NodeDescriptor `json:"nodes" yaml:"nodes"`
}

// SourceDescriptor is returned by a successful source check
type SourceDescriptor struct {
	Spec    string             `json:"spec" yaml:"spec"`
	Buckets []BucketDescriptor `json:"buckets" yaml:"buckets"`
}
