package analyzer

const (
	lcgMultiplier uint32 = 1664525
	lcgIncrement  uint32 = 1013904223
	lcgModulus           = 1 << 32
)

// LCG 线性同余生成器, 模数 2^32 由 uint32 溢出保证
type LCG struct {
	state uint32
}

// NewLCG 以种子创建生成器
func NewLCG(seed int32) *LCG {
	return &LCG{state: uint32(seed)}
}

// Next 推进状态并返回 [0,1) 区间的值
func (g *LCG) Next() float64 {
	g.state = g.state*lcgMultiplier + lcgIncrement
	return float64(g.state) / lcgModulus
}

// State 当前内部状态
func (g *LCG) State() uint32 {
	return g.state
}
