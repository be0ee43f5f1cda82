package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"presencegate/pkg/config"
)

var Module = fx.Module("gen", fx.Provide(ProvideNode))

// ProvideNode builds the process-wide snowflake node. The node ID must be
// unique per running instance or IDs will collide.
func ProvideNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
