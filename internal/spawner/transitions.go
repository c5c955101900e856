package spawner

import (
	"fmt"
	"time"

	"github.com/dropDatabas3/spawnhub/internal/domain/repository"
)

// Transition es un cambio de estado observado de un server.
type Transition struct {
	User       string
	ServerName string
	From       repository.ServerState
	To         repository.ServerState
	At         time.Time
}

// Key retorna "user/name".
func (t Transition) Key() string { return t.User + "/" + t.ServerName }

var validTransitions = map[repository.ServerState][]repository.ServerState{
	repository.ServerStopped:  {repository.ServerSpawning},
	repository.ServerFailed:   {repository.ServerSpawning, repository.ServerStopping},
	repository.ServerSpawning: {repository.ServerRunning, repository.ServerFailed},
	repository.ServerRunning:  {repository.ServerStopping, repository.ServerStopped, repository.ServerFailed},
	repository.ServerStopping: {repository.ServerStopped},
}

// ValidTransition indica si from -> to es una arista de la máquina de estados.
func ValidTransition(from, to repository.ServerState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to repository.ServerState) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
