package models

// MarketInfo - справочные данные торговой пары
type MarketInfo struct {
	ID    string `json:"id"`
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Markets - справочник рынков по идентификатору
type Markets map[string]MarketInfo

// Lookup возвращает рынок по идентификатору
func (m Markets) Lookup(id string) (MarketInfo, bool) {
	if m == nil {
		return MarketInfo{}, false
	}
	info, ok := m[id]
	return info, ok
}
