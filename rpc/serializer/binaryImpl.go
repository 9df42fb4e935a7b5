package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	[CmdType:1][flags:1][ID:8]?[JobID:4+n]?[Args:4+(4+n)*]?[Payload:4+n]?
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasID      byte = 1 << 0
	hasJobID   byte = 1 << 1
	hasArgs    byte = 1 << 2
	hasPayload byte = 1 << 3
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(cmd *common.Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("cannot serialize nil command")
	}

	result := make([]byte, b.sizeBytes(cmd))

	// Write command type
	result[0] = byte(cmd.CmdType)

	var flags byte = 0
	pos := 2 // Start after CmdType and flags

	if cmd.ID != 0 {
		flags |= hasID
		binary.BigEndian.PutUint64(result[pos:pos+8], cmd.ID)
		pos += 8
	}

	if cmd.JobID != "" {
		flags |= hasJobID
		pos = putBytes(result, pos, []byte(cmd.JobID))
	}

	if len(cmd.Args) > 0 {
		flags |= hasArgs
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(cmd.Args)))
		pos += 4
		for _, arg := range cmd.Args {
			pos = putBytes(result, pos, []byte(arg))
		}
	}

	// An empty payload is kept distinct from a missing one
	if cmd.Payload != nil {
		flags |= hasPayload
		pos = putBytes(result, pos, cmd.Payload)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, cmd *common.Command) error {
	// Check minimum size (CmdType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for command header")
	}

	*cmd = common.Command{CmdType: common.CommandType(data[0])}
	flags := data[1]
	pos := 2

	if flags&hasID != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for ID")
		}
		cmd.ID = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	if flags&hasJobID != 0 {
		jobID, next, err := getBytes(data, pos, "job id")
		if err != nil {
			return err
		}
		cmd.JobID = string(jobID)
		pos = next
	}

	if flags&hasArgs != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for argument count")
		}
		count := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		// Every argument needs at least its length prefix
		if uint64(count)*4 > uint64(len(data)-pos) {
			return fmt.Errorf("data too short for %d arguments", count)
		}

		cmd.Args = make([]string, count)
		for i := range cmd.Args {
			arg, next, err := getBytes(data, pos, "argument")
			if err != nil {
				return err
			}
			cmd.Args[i] = string(arg)
			pos = next
		}
	}

	if flags&hasPayload != 0 {
		payload, next, err := getBytes(data, pos, "payload")
		if err != nil {
			return err
		}
		// copy, data belongs to the frame buffer
		cmd.Payload = make([]byte, len(payload))
		copy(cmd.Payload, payload)
		pos = next
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after command", len(data)-pos)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(cmd *common.Command) int {
	// 1 byte for CmdType + 1 byte for flags
	size := 2

	if cmd.ID != 0 {
		size += 8
	}
	if cmd.JobID != "" {
		size += 4 + len(cmd.JobID)
	}
	if len(cmd.Args) > 0 {
		size += 4 // argument count
		for _, arg := range cmd.Args {
			size += 4 + len(arg)
		}
	}
	if cmd.Payload != nil {
		size += 4 + len(cmd.Payload)
	}

	return size
}

// putBytes writes a length prefixed byte slice and returns the next position
func putBytes(dst []byte, pos int, data []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(data)))
	pos += 4
	copy(dst[pos:pos+len(data)], data)
	return pos + len(data)
}

// getBytes reads a length prefixed byte slice without copying it
func getBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4

	if n > len(data)-pos {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	return data[pos : pos+n], pos + n, nil
}
