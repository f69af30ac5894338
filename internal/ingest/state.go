package ingest

// StreamState - состояние пагинации одного потока
type StreamState string

const (
	StatePending      StreamState = "pending"
	StateFetching     StreamState = "fetching"
	StatePageReceived StreamState = "page_received"
	StateExhausted    StreamState = "exhausted"
	StateErrored      StreamState = "errored"
)

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[StreamState][]StreamState{
	StatePending:      {StateFetching, StateErrored},
	StateFetching:     {StatePageReceived, StateErrored},
	StatePageReceived: {StateFetching, StateExhausted, StateErrored, StatePending}, // Pending - упёрлись в потолок страниц
	StateExhausted:    {},
	StateErrored:      {}, // курсор сохраняется, продолжение в следующей синхронизации
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to StreamState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal - поток завершил работу в текущей синхронизации
func (s StreamState) IsTerminal() bool {
	return s == StateExhausted || s == StateErrored
}
