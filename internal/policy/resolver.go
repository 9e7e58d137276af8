package policy

import "github.com/xela07ax/fleetgate/internal/domain"

// Резолвер профилей — чистая функция без знания о тарифах.
// Тарифные полы на heartbeat-интервал накладывает handshake-слой,
// чтобы резолвер оставался тестируемым в изоляции.

const DefaultProfile = "dev"

// builtins — фиксированные профили платформы.
var builtins = map[string]domain.Policy{
	"dev": {
		Name:              "dev",
		Label:             "Developer",
		Skills:            []string{"code.read", "code.write", "test.run"},
		Tools:             []string{"git", "compiler", "test-runner"},
		DataAccess:        "workspace",
		HeartbeatInterval: 60,
		Guardrails: domain.Guardrails{
			BudgetLimitUSD:      10,
			MaxExecutionTimeSec: 300,
			ApprovedTools:       []string{"git", "compiler", "test-runner"},
		},
	},
	"ops": {
		Name:              "ops",
		Label:             "Operations",
		Skills:            []string{"infra.read", "infra.deploy", "logs.read"},
		Tools:             []string{"kubectl", "terraform", "monitoring"},
		DataAccess:        "infrastructure",
		HeartbeatInterval: 30,
		Guardrails: domain.Guardrails{
			BudgetLimitUSD:      50,
			MaxExecutionTimeSec: 600,
			ApprovedTools:       []string{"kubectl", "terraform", "monitoring"},
		},
	},
	"exec": {
		Name:              "exec",
		Label:             "Executive",
		Skills:            []string{"reports.read", "analytics.read"},
		Tools:             []string{"bi-dashboard"},
		DataAccess:        "aggregated",
		HeartbeatInterval: 300,
		Guardrails: domain.Guardrails{
			BudgetLimitUSD:      5,
			MaxExecutionTimeSec: 120,
			ApprovedTools:       []string{"bi-dashboard"},
		},
	},
}

// Resolve мапит имя профиля в конкретную политику.
// Неизвестное имя: если передана кастомная enterprise-политика с этим именем — берем её,
// иначе откатываемся на дефолтный профиль.
func Resolve(profileName string, custom *domain.CustomPolicy) domain.Policy {
	if p, ok := builtins[profileName]; ok {
		return p
	}
	if custom != nil && custom.Name == profileName {
		return domain.Policy{
			Name:              custom.Name,
			Label:             custom.Label,
			Skills:            custom.Skills,
			Tools:             custom.Tools,
			DataAccess:        custom.DataAccess,
			HeartbeatInterval: custom.HeartbeatInterval,
			Guardrails:        custom.Guardrails,
		}
	}
	return builtins[DefaultProfile]
}

// ClampInterval поднимает heartbeat-интервал до тарифного пола.
// free — не чаще раза в 300с, pro — раза в 60с, enterprise — без пола.
func ClampInterval(p domain.Policy, tier string) domain.Policy {
	floor := 0
	switch tier {
	case domain.TierFree:
		floor = 300
	case domain.TierPro:
		floor = 60
	}
	if p.HeartbeatInterval < floor {
		p.HeartbeatInterval = floor
	}
	return p
}
