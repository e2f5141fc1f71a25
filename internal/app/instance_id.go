package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// InstanceID 桥接实例标识，优先取 SMA_INSTANCE_ID
func InstanceID() string {
	if id := os.Getenv("SMA_INSTANCE_ID"); id != "" {
		return id
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("sma-bridge-%s-%s", hostname, uuid.NewString()[:8])
}
