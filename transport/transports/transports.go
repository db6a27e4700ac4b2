// Package transports registers every built-in backend with the default
// registry. Import it for side effects when the backend is chosen at runtime:
//
//	import _ "github.com/drblury/stageflow/transport/transports"
package transports

import (
	_ "github.com/drblury/stageflow/transport/aws"
	_ "github.com/drblury/stageflow/transport/channel"
	_ "github.com/drblury/stageflow/transport/http"
	_ "github.com/drblury/stageflow/transport/jetstream"
	_ "github.com/drblury/stageflow/transport/kafka"

	iotransport "github.com/drblury/stageflow/transport/io"
	natstransport "github.com/drblury/stageflow/transport/nats"
	rabbitmqtransport "github.com/drblury/stageflow/transport/rabbitmq"
)

// The io, nats and rabbitmq backends register explicitly instead of in init.
func init() {
	iotransport.Register()
	natstransport.Register()
	rabbitmqtransport.Register()
}
