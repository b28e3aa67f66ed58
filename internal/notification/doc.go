// Package notification は通知サービスの内部実装を提供する。
//
// 通知の永続化、接続中クライアントへのリアルタイム配信、既読状態の管理を担当する。
// 通知の作成はDispatcherだけが行い、まずStoreに書き込んでから
// Registryに登録されたチャネルへ配信する。配信はベストエフォートであり、
// 取りこぼした通知は次回のスナップショット取得で回復する。
// 未読件数は保存せず、常にStoreから算出する。
package notification
