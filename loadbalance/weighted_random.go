package loadbalance

import (
	"math/rand"

	"mini-socket/registry"
)

// WeightedRandomBalancer picks endpoints with probability proportional to Weight.
// Endpoints without a positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoInstances
	}

	// 计算总权重
	totalWeight := 0
	for _, e := range endpoints {
		totalWeight += weightOf(e)
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.Intn(totalWeight)
	for i := range endpoints {
		r -= weightOf(endpoints[i])
		if r < 0 {
			return &endpoints[i], nil
		}
	}

	return &endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weightOf(e registry.Endpoint) int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}
