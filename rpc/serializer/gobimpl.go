package serializer

import (
	"bytes"
	"encoding/gob"
	"github.com/ValentinKolb/dCMD/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding.
// Every command is encoded with its own encoder, so each frame carries the type information.
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(cmd *common.Command) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(cmd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, cmd *common.Command) error {
	*cmd = common.Command{}
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(cmd)
}
