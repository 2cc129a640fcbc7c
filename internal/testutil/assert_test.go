package testutil_test

import (
	"testing"

	"github.com/ExxiDauS/CyberCTF/internal/testutil"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

func TestHelpers(t *testing.T) {
	testutil.AssertEqual(t, 31337, 31337)
	testutil.AssertCode(t, appErr.New(appErr.PortExhaustion), appErr.PortExhaustion)
	testutil.MustNoError(t, nil, "noop")

	var out struct {
		Port int `json:"port"`
	}
	testutil.MustUnmarshalJSON(t, []byte(`{"port":31000}`), &out)
	testutil.AssertEqual(t, out.Port, 31000)
}
