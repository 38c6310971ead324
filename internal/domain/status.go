package domain

// ContentStatus статус найденного контента в цикле одобрения.
type ContentStatus string

const (
	// StatusPending ожидает решения.
	StatusPending ContentStatus = "pending"
	// StatusApproved одобрен к публикации.
	StatusApproved ContentStatus = "approved"
	// StatusPosted опубликован. Терминальный статус.
	StatusPosted ContentStatus = "posted"
	// StatusRejected отклонён.
	StatusRejected ContentStatus = "rejected"
)

// KnownStatus сообщает, входит ли значение в закрытый набор статусов.
func KnownStatus(s ContentStatus) bool {
	switch s {
	case StatusPending, StatusApproved, StatusPosted, StatusRejected:
		return true
	}
	return false
}

// transitions единая таблица допустимых переходов.
// Отклонение разрешено из любого статуса, кроме posted: публикация необратима.
var transitions = map[ContentStatus]map[ContentStatus]bool{
	StatusPending: {
		StatusApproved: true,
		StatusRejected: true,
	},
	StatusApproved: {
		StatusPosted:   true,
		StatusRejected: true,
	},
	StatusRejected: {
		StatusRejected: true,
	},
	StatusPosted: {},
}

// CanTransition проверяет допустимость перехода из from в to.
func CanTransition(from, to ContentStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}
