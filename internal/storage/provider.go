package storage

import "scenerender/internal/ports"

// Provider is the object store shared by the api and the workers.
type Provider = ports.ObjectStore
