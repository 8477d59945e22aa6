package models

import "fmt"

// TransportDecodeError 传输信封解码失败（非JSON、缺必填字段）
// 处理策略：记日志后丢弃，监听循环继续。
type TransportDecodeError struct {
	Topic string
	Err   error
}

func (e *TransportDecodeError) Error() string {
	return fmt.Sprintf("transport decode failed on topic %s: %v", e.Topic, e.Err)
}

func (e *TransportDecodeError) Unwrap() error { return e.Err }

// SchemaValidationError 载荷形状/属性不在封闭模式表内
// 处理策略：记日志、丢弃、写审计，无其他副作用。
type SchemaValidationError struct {
	Topic  string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed on topic %s: %s", e.Topic, e.Reason)
}

// UnresolvedDeviceError 两级解析均未命中病人绑定
// 处理策略：原始消息写入审计库（无归属），不产出读数与状态更新。
type UnresolvedDeviceError struct {
	Identity DeviceIdentity
}

func (e *UnresolvedDeviceError) Error() string {
	return fmt.Sprintf("no patient binding for device %s (family=%s)",
		e.Identity.Key(), e.Identity.Family)
}

// PersistenceError 存储调用在有限重试后仍失败
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotificationDeliveryError 告警通知通道发送失败（非致命）
type NotificationDeliveryError struct {
	Err error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("notification delivery failed: %v", e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }
