package domain

// transitions lists, per source status, the reachable statuses and the actors
// allowed to move a purchase there.
var transitions = map[Status]map[Status][]Actor{
	StatusPending: {
		StatusConfirmed: {ActorWebhook, ActorAdmin},
		StatusRejected:  {ActorWebhook, ActorAdmin},
	},
	StatusConfirmed: {
		StatusCrediting: {ActorSystem},
		StatusCredited:  {ActorSystem},
		StatusRefunded:  {ActorWebhook, ActorAdmin},
	},
	StatusCrediting: {
		StatusCredited:  {ActorSystem},
		StatusConfirmed: {ActorSystem},
	},
	StatusCredited: {
		StatusRefunded: {ActorWebhook, ActorAdmin},
	},
}

// CanTransition reports whether actor may move a purchase from one status to
// another.
func CanTransition(from, to Status, actor Actor) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	actors, ok := targets[to]
	if !ok {
		return false
	}
	for _, allowed := range actors {
		if allowed == actor {
			return true
		}
	}
	return false
}

// ValidateTransition distinguishes an edge that does not exist from one the
// actor may not take.
func ValidateTransition(from, to Status, actor Actor) error {
	targets, ok := transitions[from]
	if !ok {
		return ErrInvalidTransition
	}
	if _, ok := targets[to]; !ok {
		return ErrInvalidTransition
	}
	if !CanTransition(from, to, actor) {
		return ErrActorNotAllowed
	}
	return nil
}

func IsTerminal(status Status) bool {
	return status == StatusRejected || status == StatusRefunded
}
