package registry

// RegistryABI 域名注册合约接口
const RegistryABI = `[
	{"type":"function","name":"register","stateMutability":"payable","inputs":[{"name":"name","type":"string"}],"outputs":[]},
	{"type":"function","name":"setRecord","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"record","type":"string"}],"outputs":[]},
	{"type":"function","name":"getAllNames","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string[]"}]},
	{"type":"function","name":"records","stateMutability":"view","inputs":[{"name":"","type":"string"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"domains","stateMutability":"view","inputs":[{"name":"","type":"string"}],"outputs":[{"name":"","type":"address"}]}
]`

const (
	methodRegister    = "register"
	methodSetRecord   = "setRecord"
	methodGetAllNames = "getAllNames"
	methodRecords     = "records"
	methodDomains     = "domains"
)
