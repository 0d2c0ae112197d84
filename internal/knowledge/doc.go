// Package knowledge 提供公民起草、评估提案和审阅条款时引用的静态治理资料。
package knowledge
