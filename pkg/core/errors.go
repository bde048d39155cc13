package core

import "github.com/nexswitch/vswitch/pkg/corerr"

func errInit(detail string, err error) error {
	return corerr.Wrap("Core.New", corerr.Internal, detail, err)
}
