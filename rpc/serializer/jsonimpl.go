package serializer

import (
	"encoding/json"
	"github.com/ValentinKolb/dCMD/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(cmd *common.Command) ([]byte, error) {
	return json.Marshal(cmd)
}

func (j jsonSerializerImpl) Deserialize(b []byte, cmd *common.Command) error {
	*cmd = common.Command{}
	return json.Unmarshal(b, cmd)
}
