package models

// CandidateCompany 买入阶段筛选时使用的候选公司，包含行情与基本面数据
type CandidateCompany struct {
	Instrument          Instrument           `json:"instrument"`
	Profile             CompanyProfile       `json:"profile"`
	Quote               Quote                `json:"quote"`
	Financials          Financials           `json:"financials"`
	InsiderTransactions []InsiderTransaction `json:"insider_transactions,omitempty"`
}

// CompanyProfile 公司概况
type CompanyProfile struct {
	Name                 string  `json:"name"`
	Country              string  `json:"country"`
	Currency             string  `json:"currency"`
	Exchange             string  `json:"exchange"`
	Industry             string  `json:"finnhubIndustry"`
	IPO                  string  `json:"ipo"`
	MarketCapitalization float64 `json:"marketCapitalization"` // 市值 (百万)
	ShareOutstanding     float64 `json:"shareOutstanding"`
	Ticker               string  `json:"ticker"`
	WebURL               string  `json:"weburl"`
}

// Quote 最新报价
type Quote struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// Financials 基本财务指标
type Financials struct {
	Symbol     string  `json:"symbol"`
	MetricType string  `json:"metricType"`
	Metric     Metrics `json:"metric"`
}

// Metrics 筛选器使用的指标子集
type Metrics struct {
	AvgVolume10Day       *float64 `json:"10DayAverageTradingVolume,omitempty"`
	WeekHigh52           float64  `json:"52WeekHigh"`
	WeekLow52            float64  `json:"52WeekLow"`
	WeekLowDate52        string   `json:"52WeekLowDate"`
	WeekPriceReturnDaily *float64 `json:"52WeekPriceReturnDaily,omitempty"`
	Beta                 float64  `json:"beta"`
}

// InsiderTransaction 一条内部人交易记录
type InsiderTransaction struct {
	Name             string  `json:"name"`
	Share            int64   `json:"share"`
	Change           int64   `json:"change"`
	FilingDate       string  `json:"filingDate"`
	TransactionDate  string  `json:"transactionDate"`
	TransactionCode  string  `json:"transactionCode"`
	TransactionPrice float64 `json:"transactionPrice"`
}
