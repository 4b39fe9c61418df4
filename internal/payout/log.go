package payout

import (
	"github.com/RuSwift/garantex-sub000/internal/build"
	"github.com/btcsuite/btclog"
)

var log btclog.Logger

func init() {
	log = build.NewSubLogger("PYOT", "")
}
