package worker

import (
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// RegisterHandlers wires every capability's handler onto the mux under its
// task type. Capabilities whose provider is not configured are skipped so
// a worker deployment can serve a subset of queues.
func RegisterHandlers(mux *asynq.ServeMux, runner *Runner, capabilities []Capability) {
	for _, cap := range capabilities {
		if e, ok := cap.(interface{ Enabled() bool }); ok && !e.Enabled() {
			log.Warnf("Skipping %s handler: provider not configured", cap.Name())
			continue
		}
		log.Infof("Registering %s handler (%s)", cap.Name(), cap.TaskType())
		mux.HandleFunc(cap.TaskType(), runner.Handle(cap))
	}
}
