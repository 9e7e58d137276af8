package postgres

import "database/sql"

// Store агрегирует репозитории в единый фасад персистентности.
// Слои бизнес-логики объявляют свои узкие интерфейсы (handshake.Store,
// heartbeat.Store, alert.Store) — этот тип покрывает их все за счет embedding.
type Store struct {
	*AgentRepo
	*UserRepo
	*PolicyRepo
	*AlertRepo
	*MetricsRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		AgentRepo:   NewAgentRepo(db),
		UserRepo:    NewUserRepo(db),
		PolicyRepo:  NewPolicyRepo(db),
		AlertRepo:   NewAlertRepo(db),
		MetricsRepo: NewMetricsRepo(db),
	}
}
